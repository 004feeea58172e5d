package utils

import (
	"strconv"
	"strings"
)

func BuildRequestsListCacheKey(limit int, status *string, cursor string) string {
	s := ""
	if status != nil {
		s = strings.ToLower(strings.TrimSpace(*status))
	}

	return "requests:list:v1:limit=" + strconv.Itoa(limit) +
		":status=" + s +
		":cursor=" + cursor
}

func BuildRequestDetailCacheKey(requestID string) string {
	return "requests:detail:v1:" + requestID
}
