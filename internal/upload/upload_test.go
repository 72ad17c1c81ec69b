package upload

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/config"
	"github.com/sorosurance/soro/internal/pcm"
	"github.com/sorosurance/soro/internal/server"
	"github.com/sorosurance/soro/internal/session"
)

func TestHTTPClientAgainstService(t *testing.T) {
	host := startHost(t, server.NewService(fixedEngine("test claim"), nil))

	client := NewHTTPClient("http://"+host.HTTPAddress()+api.TranscribePath, nil)
	result, err := client.Transcribe(context.Background(), sampleUpload())
	require.NoError(t, err)
	require.Equal(t, "test claim", result.Transcript)
	require.Equal(t, session.SentimentNeutral, result.Sentiment)
	require.Empty(t, result.Keywords)
}

func TestHTTPClientSendsWAVAndMetadata(t *testing.T) {
	var (
		gotAudio []byte
		gotForm  map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile(api.FieldAudio)
		require.NoError(t, err)
		raw, err := io.ReadAll(f)
		require.NoError(t, err)
		gotAudio, _, _, err = pcm.DecodeWAV(raw)
		require.NoError(t, err)
		gotForm = map[string]string{
			api.FieldLanguage:  r.FormValue(api.FieldLanguage),
			api.FieldDuration:  r.FormValue(api.FieldDuration),
			api.FieldSessionID: r.FormValue(api.FieldSessionID),
		}
		_, _ = io.WriteString(w, `{"success":true,"transcript":"ok","keywords":["theft"],"sentiment":"negative","sentiment_score":-1}`)
	}))
	defer srv.Close()

	up := sampleUpload()
	result, err := NewHTTPClient(srv.URL, nil).Transcribe(context.Background(), up)
	require.NoError(t, err)
	require.Equal(t, up.Audio, gotAudio)
	require.Equal(t, map[string]string{
		api.FieldLanguage:  "en-NG",
		api.FieldDuration:  "12",
		api.FieldSessionID: "sess-1",
	}, gotForm)
	require.Equal(t, session.SentimentNegative, result.Sentiment)
	require.Equal(t, []string{"theft"}, result.Keywords)
	require.Equal(t, -1.0, result.SentimentScore)
}

func TestHTTPClientFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{"error":"upstream down"}`, wantErr: "HTTP 502: upstream down"},
		{name: "plain error body", status: http.StatusInternalServerError, body: "oops", wantErr: "HTTP 500: oops"},
		{name: "not json", status: http.StatusOK, body: "<html>", wantErr: "malformed"},
		{name: "bad sentiment", status: http.StatusOK, body: `{"success":true,"transcript":"x","sentiment":"ecstatic"}`, wantErr: "malformed"},
		{name: "missing transcript", status: http.StatusOK, body: `{"success":true}`, wantErr: "malformed"},
		{name: "rejected", status: http.StatusOK, body: `{"success":false,"error":"no speech detected"}`, wantErr: "no speech detected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, nil).Transcribe(context.Background(), sampleUpload())
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestHTTPClientRejectedWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":false}`)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, nil).Transcribe(context.Background(), sampleUpload())
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorContains(t, err, "no reason given")
}

func TestHTTPClientHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPClient(srv.URL, nil).Transcribe(ctx, sampleUpload())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGRPCClientAgainstService(t *testing.T) {
	host := startHost(t, server.NewService(fixedEngine("my car was stolen"), nil))

	client := NewGRPCClient(host.GRPCAddress(), time.Second)
	defer client.Close()

	result, err := client.Transcribe(context.Background(), sampleUpload())
	require.NoError(t, err)
	require.Equal(t, "my car was stolen", result.Transcript)
	require.Equal(t, []string{"stolen"}, result.Keywords)
	require.Equal(t, session.SentimentNegative, result.Sentiment)

	// Connection is reused.
	_, err = client.Transcribe(context.Background(), sampleUpload())
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
}

func TestGRPCClientCarriesFullLengthDefaultRecording(t *testing.T) {
	cfg := config.Default()
	host := startHost(t, server.NewService(fixedEngine("my roof collapsed"), nil))

	client := NewGRPCClient(host.GRPCAddress(), time.Second, WithMaxMessageBytes(cfg.Server.BodyLimitBytes()))
	defer client.Close()

	up := sampleUpload()
	up.Audio = longRecording(int(config.RecordingBytes(cfg.Session.MaxDuration, cfg.Audio.SampleRate, cfg.Audio.Channels)))
	up.DurationSeconds = int(cfg.Session.MaxDuration.Seconds())
	result, err := client.Transcribe(context.Background(), up)
	require.NoError(t, err)
	require.Equal(t, "my roof collapsed", result.Transcript)
}

func TestGRPCClientRefusesOversizedRecording(t *testing.T) {
	host := startHost(t, server.NewService(fixedEngine("unused"), nil))

	client := NewGRPCClient(host.GRPCAddress(), time.Second, WithMaxMessageBytes(1<<20))
	defer client.Close()

	up := sampleUpload()
	up.Audio = longRecording(2 << 20)
	_, err := client.Transcribe(context.Background(), up)
	require.Error(t, err)
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPCServerEnforcesBodyLimit(t *testing.T) {
	host := &server.Host{HTTPAddr: "127.0.0.1:0", GRPCAddr: "127.0.0.1:0", BodyLimitMB: 1}
	serveHost(t, host, server.NewService(fixedEngine("unused"), nil))

	client := NewGRPCClient(host.GRPCAddress(), time.Second)
	defer client.Close()

	up := sampleUpload()
	up.Audio = longRecording(2 << 20)
	_, err := client.Transcribe(context.Background(), up)
	require.Error(t, err)
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPCClientNoSpeechIsRejected(t *testing.T) {
	host := startHost(t, server.NewService(nil, nil))

	client := NewGRPCClient(host.GRPCAddress(), time.Second)
	defer client.Close()

	up := sampleUpload()
	up.Audio = []byte{}
	_, err := client.Transcribe(context.Background(), up)
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorContains(t, err, "no speech detected")
}

func TestGRPCClientUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	client := NewGRPCClient(addr, 200*time.Millisecond)
	defer client.Close()
	_, err = client.Transcribe(context.Background(), sampleUpload())
	require.ErrorContains(t, err, "readiness")

	_, err = NewGRPCClient("", time.Second).Transcribe(context.Background(), sampleUpload())
	require.ErrorContains(t, err, "endpoint is empty")
}

func TestSimulatedUploader(t *testing.T) {
	sim := NewSimulated(server.NewService(fixedEngine("flood in abuja"), nil), time.Millisecond)
	result, err := sim.Transcribe(context.Background(), sampleUpload())
	require.NoError(t, err)
	require.Equal(t, []string{"flood", "abuja"}, result.Keywords)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSimulated(nil, time.Hour).Transcribe(ctx, sampleUpload())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSimulatedUploaderEmptyRecordingFails(t *testing.T) {
	up := sampleUpload()
	up.Audio = []byte{}
	_, err := NewSimulated(nil, 0).Transcribe(context.Background(), up)
	require.ErrorIs(t, err, ErrRejected)
}

func fixedEngine(text string) server.Engine {
	return server.EngineFunc(func(context.Context, server.Request) (server.Transcription, error) {
		return server.Transcription{Text: text, Confidence: 0.8}, nil
	})
}

func startHost(t *testing.T, svc *server.Service) *server.Host {
	t.Helper()
	host := &server.Host{HTTPAddr: "127.0.0.1:0", GRPCAddr: "127.0.0.1:0"}
	serveHost(t, host, svc)
	return host
}

func serveHost(t *testing.T, host *server.Host, svc *server.Service) {
	t.Helper()
	require.NoError(t, host.Listen(svc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = host.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + host.HTTPAddress() + api.HealthPath)
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
}

// longRecording returns n bytes of a quiet s16le square wave.
func longRecording(n int) []byte {
	audio := make([]byte, n&^1)
	for i := 0; i < len(audio)/2; i++ {
		v := int16(3000)
		if i%40 >= 20 {
			v = -3000
		}
		binary.LittleEndian.PutUint16(audio[i*2:], uint16(v))
	}
	return audio
}

func sampleUpload() session.Upload {
	audio := make([]byte, 3200)
	for i := 0; i < len(audio)/2; i++ {
		v := int16(9000)
		if i%16 >= 8 {
			v = -9000
		}
		binary.LittleEndian.PutUint16(audio[i*2:], uint16(v))
	}
	return session.Upload{
		SessionID:       "sess-1",
		Audio:           audio,
		DurationSeconds: 12,
		LanguageHint:    "en-NG",
		SampleRate:      16000,
		Channels:        1,
	}
}
