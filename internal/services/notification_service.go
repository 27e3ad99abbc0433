package services

import (
	"fmt"
	"sync"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/ferryman/internal/logger"
	"github.com/Wikid82/ferryman/internal/util"
)

// sendNotification is swapped out in tests.
var sendNotification = shoutrrr.Send

// NotificationService pushes certificate failure notices to shoutrrr URLs.
type NotificationService struct {
	urls []string
	wg   sync.WaitGroup
}

// NewNotificationService returns a service sending to urls. With no URLs it is a no-op.
func NewNotificationService(urls []string) *NotificationService {
	return &NotificationService{urls: append([]string(nil), urls...)}
}

// Notify delivers title and message to every configured URL in the background.
func (s *NotificationService) Notify(title, message string) {
	if s == nil || len(s.urls) == 0 {
		return
	}
	// Use newline for better formatting in chat apps
	msg := fmt.Sprintf("%s\n\n%s", title, message)
	for i, url := range s.urls {
		s.wg.Add(1)
		go func(idx int, url string) {
			defer s.wg.Done()
			if err := sendNotification(url, msg); err != nil {
				logger.Component("notify").WithField("target", idx).
					WithError(err).Warn("failed to send notification")
			}
		}(i, url)
	}
	logger.Component("notify").WithField("title", util.SanitizeForLog(title)).Debug("notification queued")
}

// Wait blocks until queued notifications have been attempted.
func (s *NotificationService) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}
