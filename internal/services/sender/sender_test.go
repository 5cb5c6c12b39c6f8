package services

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-manager/internal/lib/smtp"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect() (smtp.Client, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(smtp.Client), args.Error(1)
}

func (m *MockTransport) GetSMTPUser() string {
	args := m.Called()
	return args.String(0)
}

type MockSMTPClient struct {
	mock.Mock
}

func (m *MockSMTPClient) Mail(from string) error {
	args := m.Called(from)
	return args.Error(0)
}

func (m *MockSMTPClient) Rcpt(to string) error {
	args := m.Called(to)
	return args.Error(0)
}

func (m *MockSMTPClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockSMTPClient) Quit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSMTPClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type nopWriteCloser struct {
	written []byte
}

func (w *nopWriteCloser) Write(p []byte) (int, error) {
	w.written = append(w.written, p...)
	return len(p), nil
}

func (w *nopWriteCloser) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSenderService_SendEmailMessage(t *testing.T) {
	msg := models.EmailMessage{
		To:      "user@example.com",
		Subject: "Сброс пароля",
		Body:    "Ваш код для сброса пароля: abc123",
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	t.Run("successful delivery", func(t *testing.T) {
		transport := new(MockTransport)
		client := new(MockSMTPClient)
		writer := &nopWriteCloser{}

		transport.On("GetSMTPUser").Return("noreply@example.com")
		transport.On("Connect").Return(client, nil).Once()
		client.On("Mail", "noreply@example.com").Return(nil).Once()
		client.On("Rcpt", "user@example.com").Return(nil).Once()
		client.On("Data").Return(writer, nil).Once()
		client.On("Quit").Return(nil).Once()
		client.On("Close").Return(nil).Once()

		svc := NewSenderService(transport, testLogger())
		require.NoError(t, svc.SendEmailMessage(body))

		written := string(writer.written)
		assert.Contains(t, written, "Subject: Сброс пароля")
		assert.Contains(t, written, "To: user@example.com")
		assert.Contains(t, written, msg.Body)

		transport.AssertExpectations(t)
		client.AssertExpectations(t)
	})

	t.Run("malformed message body", func(t *testing.T) {
		svc := NewSenderService(new(MockTransport), testLogger())
		assert.Error(t, svc.SendEmailMessage([]byte("{not json")))
	})

	t.Run("connect failure is returned for redelivery", func(t *testing.T) {
		transport := new(MockTransport)
		transport.On("GetSMTPUser").Return("noreply@example.com")
		transport.On("Connect").Return(nil, errors.New("dial timeout")).Once()

		svc := NewSenderService(transport, testLogger())
		assert.Error(t, svc.SendEmailMessage(body))
		transport.AssertExpectations(t)
	})

	t.Run("rcpt failure", func(t *testing.T) {
		transport := new(MockTransport)
		client := new(MockSMTPClient)

		transport.On("GetSMTPUser").Return("noreply@example.com")
		transport.On("Connect").Return(client, nil).Once()
		client.On("Mail", "noreply@example.com").Return(nil).Once()
		client.On("Rcpt", "user@example.com").Return(errors.New("mailbox unavailable")).Once()
		client.On("Close").Return(nil).Once()

		svc := NewSenderService(transport, testLogger())
		assert.Error(t, svc.SendEmailMessage(body))
		client.AssertExpectations(t)
	})
}
