package services

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotificationService_Notify(t *testing.T) {
	var mu sync.Mutex
	var got []string
	orig := sendNotification
	sendNotification = func(url, message string) error {
		mu.Lock()
		got = append(got, url+"|"+message)
		mu.Unlock()
		if url == "generic://broken" {
			return errors.New("unreachable")
		}
		return nil
	}
	defer func() { sendNotification = orig }()

	svc := NewNotificationService([]string{"generic://ok", "generic://broken"})
	svc.Notify("Certificate renewal failed", "Certificate #3: rate limited")
	svc.Wait()

	sort.Strings(got)
	assert.Equal(t, []string{
		"generic://broken|Certificate renewal failed\n\nCertificate #3: rate limited",
		"generic://ok|Certificate renewal failed\n\nCertificate #3: rate limited",
	}, got)
}

func TestNotificationService_NoURLs(t *testing.T) {
	called := false
	orig := sendNotification
	sendNotification = func(string, string) error {
		called = true
		return nil
	}
	defer func() { sendNotification = orig }()

	NewNotificationService(nil).Notify("t", "m")
	var nilSvc *NotificationService
	nilSvc.Notify("t", "m")
	nilSvc.Wait()
	assert.False(t, called)
}
