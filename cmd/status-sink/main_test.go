package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpadev-net/kiosk-agent/internal/ids"
	"github.com/xpadev-net/kiosk-agent/internal/status"
)

func TestStatusHandlerAcceptsSignedPush(t *testing.T) {
	srv := httptest.NewServer(statusHandler("access", "signing"))
	defer srv.Close()

	client := status.NewClient(srv.URL, "access", "signing", nil)
	err := client.Push(context.Background(), &status.Record{ID: ids.NewRecordID(), AgentID: "kiosk-1", Timestamp: time.Now()})
	require.NoError(t, err)
}

func TestStatusHandlerRejectsWrongKeys(t *testing.T) {
	srv := httptest.NewServer(statusHandler("access", "signing"))
	defer srv.Close()

	rec := &status.Record{ID: ids.NewRecordID(), AgentID: "kiosk-1", Timestamp: time.Now()}

	err := status.NewClient(srv.URL, "wrong", "signing", nil).Push(context.Background(), rec)
	assert.ErrorContains(t, err, "401")

	err = status.NewClient(srv.URL, "access", "other", nil).Push(context.Background(), rec)
	assert.ErrorContains(t, err, "401")

	err = status.NewClient(srv.URL, "access", "", nil).Push(context.Background(), rec)
	assert.ErrorContains(t, err, "400")
}

func TestStatusHandlerRejectsMalformedRecordID(t *testing.T) {
	srv := httptest.NewServer(statusHandler("", ""))
	defer srv.Close()

	err := status.NewClient(srv.URL, "", "", nil).Push(context.Background(), &status.Record{ID: "rec-1"})
	assert.ErrorContains(t, err, "400")
}
