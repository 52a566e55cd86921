package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcissuer/internal/platform/config"
	dErrors "vcissuer/pkg/domain-errors"
)

func testService(t *testing.T, sendErr error) (*EmailService, *[]string) {
	t.Helper()
	svc, err := NewEmailService(config.SMTPConfig{
		Host:      "smtp.example.com",
		Port:      "587",
		Username:  "user",
		Password:  "pass",
		FromEmail: "noreply@issuer.example",
		FromName:  "Credential Issuer",
	})
	require.NoError(t, err)

	var sent []string
	svc.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		sent = append(sent, string(msg))
		return nil
	}
	return svc, &sent
}

func TestSendCredentialActivationEmail(t *testing.T) {
	svc, sent := testService(t, nil)

	err := svc.SendCredentialActivationEmail(context.Background(),
		"john@example.com", "John Worker", "https://issuer.example/activate?x=1", "TXC12345")
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	msg := (*sent)[0]
	assert.Contains(t, msg, "To: john@example.com")
	assert.Contains(t, msg, "TXC12345")
	assert.Contains(t, msg, "Subject: Activate your new credential")
}

func TestSendCredentialSignedNotification_CustomSubjectAndSentence(t *testing.T) {
	svc, sent := testService(t, nil)

	err := svc.SendCredentialSignedNotification(context.Background(),
		"ops@corp.example", "Corp", "Your certification is ready",
		"The verifiable certification for your product has been signed.")
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0], "Subject: Your certification is ready")
	assert.Contains(t, (*sent)[0], "has been signed")
}

func TestSendFailureIsEmailDeliveryError(t *testing.T) {
	svc, _ := testService(t, errors.New("connection refused"))

	err := svc.SendPin(context.Background(), "john@example.com", "1234")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEmailDelivery))
}

func TestUnconfiguredSMTPSuppressesDelivery(t *testing.T) {
	svc, err := NewEmailService(config.SMTPConfig{Host: "localhost", Port: "587"})
	require.NoError(t, err)
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called without credentials")
		return nil
	}

	assert.NoError(t, svc.SendPendingCredentialNotification(context.Background(), "x@example.com", "X"))
}

func TestTemplatesEscapeHTML(t *testing.T) {
	svc, sent := testService(t, nil)

	err := svc.SendPendingCredentialNotification(context.Background(),
		"x@example.com", "<script>alert(1)</script>")
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.False(t, strings.Contains((*sent)[0], "<script>alert(1)</script>"))
}
