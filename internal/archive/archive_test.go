package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"loan_broker_backend/internal/quotes/service"
)

type memStore struct {
	objects map[string]string
	failOn  string
}

func (m *memStore) EnsureBucketExists(context.Context, string) error { return nil }

func (m *memStore) PutObject(_ context.Context, bucket, key, _ string, reader io.Reader, size int64) error {
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return errors.New("upload failed")
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if int64(len(body)) != size {
		return errors.New("size mismatch")
	}
	m.objects[bucket+"/"+key] = string(body)
	return nil
}

func TestArchiveExchangeStoresBothSides(t *testing.T) {
	store := &memStore{objects: map[string]string{}}
	a := New(store, "provider-exchanges")

	ex := service.Exchange{
		BrokerID:   uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		QuoteID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Purpose:    "production_push",
		Request:    []byte("<req/>"),
		Response:   []byte("<resp/>"),
		OccurredAt: time.Date(2026, 3, 2, 10, 4, 5, 0, time.UTC),
	}
	if err := a.ArchiveExchange(context.Background(), ex); err != nil {
		t.Fatalf("archive: %v", err)
	}

	prefix := "provider-exchanges/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222/20260302T100405.000Z-production_push"
	if store.objects[prefix+"-request.xml"] != "<req/>" || store.objects[prefix+"-response.xml"] != "<resp/>" {
		t.Fatalf("unexpected objects %v", store.objects)
	}
}

func TestArchiveExchangeReportsUploadFailure(t *testing.T) {
	store := &memStore{objects: map[string]string{}, failOn: "-response.xml"}
	a := New(store, "bucket")

	if err := a.ArchiveExchange(context.Background(), service.Exchange{Purpose: "production_push"}); err == nil {
		t.Fatal("expected upload error")
	}
}
