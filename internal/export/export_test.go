package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"scribeflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob() *models.Job {
	return &models.Job{
		ID:             "job-123",
		Title:          "Weekly Standup",
		Language:       "es",
		QualityProfile: models.ProfileBalanced,
		Segments: models.SegmentList{
			{Start: 0, End: 1.5, Text: "hola mundo"},
			{Start: 1.5, End: 3.04, Text: "esto es una prueba"},
		},
	}
}

func TestRenderTXT(t *testing.T) {
	out, err := Render(FormatTXT, sampleJob(), "hola mundo esto es una prueba")
	require.NoError(t, err)
	assert.Equal(t, "hola mundo esto es una prueba", out)
}

func TestRenderMarkdown(t *testing.T) {
	out, err := Render(FormatMD, sampleJob(), "hola mundo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Weekly Standup\n\n- Idioma: es\n- Perfil: balanced\n\n"), out)
	assert.True(t, strings.HasSuffix(out, "hola mundo"))
}

func TestRenderSRT(t *testing.T) {
	out, err := Render(FormatSRT, sampleJob(), "")
	require.NoError(t, err)

	want := "1\n" +
		"00:00:00,000 --> 00:00:01,500\n" +
		"hola mundo\n" +
		"\n" +
		"2\n" +
		"00:00:01,500 --> 00:00:03,040\n" +
		"esto es una prueba\n"
	assert.Equal(t, want, out)
}

func TestSRTTimestampRollover(t *testing.T) {
	assert.Equal(t, "01:01:01,001", srtTimestamp(3661.001))
	assert.Equal(t, "00:00:00,000", srtTimestamp(-5))
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render("pdf", sampleJob(), "")
	assert.Error(t, err)
	assert.False(t, ValidFormat("pdf"))
	assert.True(t, ValidFormat(FormatSRT))
}

func TestDispatchWebhook(t *testing.T) {
	service := NewService()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "ScribeFlow-Export/1.0", r.Header.Get("User-Agent"))

		var payload Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "job-123", payload.JobID)
		assert.Equal(t, FormatTXT, payload.Format)
		assert.Equal(t, "hola", payload.Content)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := service.Dispatch(context.Background(), Request{
		JobID:       "job-123",
		Destination: DestinationWebhook,
		Format:      FormatTXT,
		TargetURL:   server.URL,
	}, "hola")
	require.NoError(t, err)
}

func TestDispatchWebhookRetriesThenSucceeds(t *testing.T) {
	service := NewService()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := service.Dispatch(context.Background(), Request{
		JobID:       "job-123",
		Destination: DestinationWebhook,
		Format:      FormatTXT,
		TargetURL:   server.URL,
	}, "hola")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatchWebhookRequiresURL(t *testing.T) {
	err := NewService().Dispatch(context.Background(), Request{
		JobID:       "job-123",
		Destination: DestinationWebhook,
		Format:      FormatTXT,
	}, "hola")
	assert.Error(t, err)
}

func TestDispatchExternalDestinationsAccepted(t *testing.T) {
	service := NewService()
	for _, dest := range []string{DestinationNotion, DestinationTrello} {
		err := service.Dispatch(context.Background(), Request{
			JobID:       "job-123",
			Destination: dest,
			Format:      FormatMD,
		}, "hola")
		assert.NoError(t, err, dest)
	}
	assert.Error(t, service.Dispatch(context.Background(), Request{Destination: "carrier-pigeon"}, ""))
}
