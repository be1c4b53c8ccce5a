package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"playerpoints/pkg/retry"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

var (
	// ErrNotConnected is returned by an attempt made while no handle is held
	ErrNotConnected = errors.New("store: not connected")
	// ErrUnavailable means every allowed attempt failed at the transport level
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrIntegrity wraps constraint violations such as a duplicate player entry
	ErrIntegrity = errors.New("store: integrity violation")
	// ErrAdmin wraps build and destroy failures
	ErrAdmin = errors.New("store: schema operation failed")
	// ErrQuery wraps any other statement failure, including a done context
	ErrQuery = errors.New("store: statement failed")
	// ErrPointsRange is returned for a balance the points column cannot hold
	ErrPointsRange = errors.New("store: points out of range")
)

const uniqueViolation = "23505"

// IsTransport reports whether err means the connection itself is unusable.
// Constraint and syntax errors reported by a live server are not transport errors.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, puddle.ErrClosedPool) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsIntegrity reports whether err is a constraint violation (SQLSTATE class 23)
func IsIntegrity(err error) bool {
	if errors.Is(err, ErrIntegrity) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// translate maps a failed operation onto the store's error taxonomy
func translate(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w: %w", op, ErrQuery, ctx.Err())
	case IsIntegrity(err):
		if errors.Is(err, ErrIntegrity) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrIntegrity, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrQuery, err)
	}
}
