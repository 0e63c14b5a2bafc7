package config

import (
	"context"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the process logger. Init configures it; until then it logs text at info.
var Logger = logrus.New()

type ctxKey string

const (
	tenantKey ctxKey = "tenant_id"
	userKey   ctxKey = "user_id"
)

func Init(level, format string) {
	Logger.SetOutput(os.Stdout)

	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		Logger.WithError(err).Warnf("invalid log level %q, falling back to info", level)
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// WithTenant stores the tenant and acting user so every log line of the request carries them.
func WithTenant(ctx context.Context, tenantID, userID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, tenantKey, tenantID)
	return context.WithValue(ctx, userKey, userID)
}

func WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(Logger)
	if ctx == nil {
		return entry
	}

	fields := logrus.Fields{}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		fields["request_id"] = reqID
	}
	if id, ok := ctx.Value(tenantKey).(uuid.UUID); ok {
		fields["tenant_id"] = id.String()
	}
	if id, ok := ctx.Value(userKey).(uuid.UUID); ok {
		fields["user_id"] = id.String()
	}
	return entry.WithFields(fields)
}
