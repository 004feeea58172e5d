package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

type ProjectionCursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	RequestID string    `json:"requestId"`
}

type IntakeCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	RowKey    string    `json:"rowKey"`
}

func EncodeProjectionCursor(updatedAt time.Time, requestID string) (string, error) {
	b, err := json.Marshal(ProjectionCursor{UpdatedAt: updatedAt, RequestID: requestID})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeProjectionCursor(cursor string) (ProjectionCursor, error) {
	if cursor == "" {
		return ProjectionCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return ProjectionCursor{}, err
	}

	var c ProjectionCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return ProjectionCursor{}, err
	}
	if c.RequestID == "" || c.UpdatedAt.IsZero() {
		return ProjectionCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}

func EncodeIntakeCursor(createdAt time.Time, rowKey string) (string, error) {
	b, err := json.Marshal(IntakeCursor{CreatedAt: createdAt, RowKey: rowKey})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeIntakeCursor(cursor string) (IntakeCursor, error) {
	if cursor == "" {
		return IntakeCursor{}, errors.New("empty cursor")
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return IntakeCursor{}, err
	}
	var c IntakeCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return IntakeCursor{}, err
	}
	if c.RowKey == "" || c.CreatedAt.IsZero() {
		return IntakeCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
