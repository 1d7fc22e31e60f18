// Package lockvendor issues and revokes time-boxed unlock codes on the
// smart locks fitted to rental tools.
package lockvendor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"tool-rental-service/internal/util"

	"go.uber.org/zap"
)

// IssueRequest describes the access window for one booking
type IssueRequest struct {
	BookingID string
	LockID    string
	Start     time.Time
	End       time.Time
}

// Issuer creates and revokes access codes. Failures wrap models.ErrGateway.
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (string, error)
	Revoke(ctx context.Context, code string) error
}

// MockIssuer generates random 6-digit codes without a vendor
type MockIssuer struct {
	logger *zap.Logger
}

func NewMockIssuer() *MockIssuer {
	return &MockIssuer{logger: util.GetLogger()}
}

func (m *MockIssuer) Issue(ctx context.Context, req IssueRequest) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64()+100000)

	m.logger.Info("Mock access code issued",
		zap.String("booking_id", req.BookingID),
		zap.Time("valid_from", req.Start),
		zap.Time("valid_until", req.End))
	return code, nil
}

func (m *MockIssuer) Revoke(ctx context.Context, code string) error {
	m.logger.Info("Mock access code revoked")
	return nil
}
