// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package logger attaches a structured logrus entry to a context.Context,
// tagged with a request id and (once known) the acting user, so every log
// line emitted while handling one call carries both without explicit
// plumbing.
package logger

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	Actor     string `json:"actor"`
}

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	actorLoggerKey     string = "actor"
)

// Init sets up a deterministic timestamp format for all log statements,
// matching the teacher's InitLogger.
func Init(level logrus.Level) {
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)
	logrus.SetLevel(level)
}

// Default returns a logger with no request id attached.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns ctx with a logger attached, tagged with a fresh
// request id, unless ctx already carries one -- in which case ctx itself is
// returned unchanged.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	id, _ := uuid.NewUUID()
	rlog := logrus.WithField(requestIDLoggerKey, id.String())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithLoggerActor attaches (or augments) a logger tagged with actor.
func ContextWithLoggerActor(ctx context.Context, actor string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(actorLoggerKey, actor)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger attached to ctx, or the default logger if
// none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// SerializeLoggerContext extracts the request id/actor pair from ctx as
// JSON, so it can be handed across a process boundary (e.g. an async
// worker picking up a migration job) and reattached with
// ContextWithLoggerFromData.
func SerializeLoggerContext(ctx context.Context) []byte {
	values := loggerValues(ctx)
	if values.RequestID == "" {
		return []byte("{}")
	}
	data, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// ContextWithLoggerFromData reattaches a logger serialized by
// SerializeLoggerContext. If ctx already has a logger, ctx is returned
// unchanged; if data does not parse, a fresh logger is attached instead.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if loggerFromContext(ctx) != nil {
		return ctx
	}
	if ctx2, ok := deserializeLoggerContext(ctx, data); ok {
		return ctx2
	}
	ctx, _ = ContextWithLogger(ctx)
	return ctx
}

// RequestIDFromContext returns the request id attached to ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var values contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return values
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		values.RequestID = s
	}
	if s, ok := rlog.Data[actorLoggerKey].(string); ok {
		values.Actor = s
	}
	return values
}

func deserializeLoggerContext(ctx context.Context, data []byte) (context.Context, bool) {
	var values contextLoggerValues
	if err := json.Unmarshal(data, &values); err != nil || values.RequestID == "" {
		return ctx, false
	}
	rlog := logrus.WithField(requestIDLoggerKey, values.RequestID)
	if values.Actor != "" {
		rlog = rlog.WithField(actorLoggerKey, values.Actor)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), true
}
