package audio

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
	"github.com/LeventeLantos/broadcast-dispatch/internal/storage"
)

// wavBytes returns a minimal PCM WAV file of exactly n bytes.
func wavBytes(n int) []byte {
	b := make([]byte, n)
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], uint32(n-8))
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)
	binary.LittleEndian.PutUint16(b[22:], 1)
	binary.LittleEndian.PutUint32(b[24:], 8000)
	binary.LittleEndian.PutUint32(b[28:], 16000)
	binary.LittleEndian.PutUint16(b[32:], 2)
	binary.LittleEndian.PutUint16(b[34:], 16)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], uint32(n-44))
	for i := 44; i < n; i++ {
		b[i] = byte(i)
	}
	return b
}

func strPtr(s string) *string { return &s }

type fakeGenerations map[string]*model.Generation

func (f fakeGenerations) GetGeneration(_ context.Context, id string) (*model.Generation, error) {
	g, ok := f[id]
	if !ok {
		return nil, errors.New("generation not found")
	}
	return g, nil
}

type fakeObjects map[string]*storage.Object

func (f fakeObjects) Get(_ context.Context, key string) (*storage.Object, error) {
	o, ok := f[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return o, nil
}

func newTestResolver(gens fakeGenerations, objects ObjectStore) *Resolver {
	return NewResolver(gens, objects, zerolog.Nop(), Options{})
}

func TestDecodeHexPrefixed(t *testing.T) {
	t.Parallel()

	out, ok := DecodeHexPrefixed([]byte(`\x52494646`))
	require.True(t, ok)
	assert.Equal(t, []byte("RIFF"), out)

	out, ok = DecodeHexPrefixed([]byte(`\\x4944`))
	require.True(t, ok)
	assert.Equal(t, []byte("ID"), out)

	_, ok = DecodeHexPrefixed([]byte(`\xZZ`))
	assert.False(t, ok)
	_, ok = DecodeHexPrefixed([]byte("52494646"))
	assert.False(t, ok)
	_, ok = DecodeHexPrefixed([]byte(`\x`))
	assert.False(t, ok)
}

func TestDecodeBase64(t *testing.T) {
	t.Parallel()

	payload := []byte{0xff, 0xfb, 0x90, 0x00, 0x01}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding} {
		out, ok := DecodeBase64([]byte(enc.EncodeToString(payload)))
		require.True(t, ok)
		assert.Equal(t, payload, out)
	}

	wrapped := "UklG\nRg==\n"
	out, ok := DecodeBase64([]byte(wrapped))
	require.True(t, ok)
	assert.Equal(t, []byte("RIFF"), out)

	_, ok = DecodeBase64([]byte("[1,2,3]"))
	assert.False(t, ok)
	_, ok = DecodeBase64([]byte("RIFF\x00\x00"))
	assert.False(t, ok)
}

func TestDecodeJSONBytes(t *testing.T) {
	t.Parallel()

	out, ok := DecodeJSONBytes([]byte("[82, 73, 70, 70]"))
	require.True(t, ok)
	assert.Equal(t, []byte("RIFF"), out)

	out, ok = DecodeJSONBytes([]byte(`{"type":"Buffer","data":[73,68,51]}`))
	require.True(t, ok)
	assert.Equal(t, []byte("ID3"), out)

	_, ok = DecodeJSONBytes([]byte(`{"type":"Other","data":[1]}`))
	assert.False(t, ok)
	_, ok = DecodeJSONBytes([]byte("[1, 256]"))
	assert.False(t, ok)
	_, ok = DecodeJSONBytes([]byte("[]"))
	assert.False(t, ok)
}

func TestDecodeRaw(t *testing.T) {
	t.Parallel()

	out, ok := DecodeRaw([]byte{1, 2})
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, out)

	_, ok = DecodeRaw(nil)
	assert.False(t, ok)
}

func TestDecodeBlob_Priority(t *testing.T) {
	t.Parallel()

	_, name, ok := DecodeBlob([]byte(`\x5249`))
	require.True(t, ok)
	assert.Equal(t, "hex", name)

	_, name, _ = DecodeBlob([]byte("UklGRg=="))
	assert.Equal(t, "base64", name)

	_, name, _ = DecodeBlob([]byte("[1,2]"))
	assert.Equal(t, "json_array", name)

	_, name, _ = DecodeBlob(wavBytes(64))
	assert.Equal(t, "raw", name)

	_, _, ok = DecodeBlob(nil)
	assert.False(t, ok)
}

func TestParseDataURL(t *testing.T) {
	t.Parallel()

	data, mt, err := ParseDataURL("data:audio/wav;base64," + base64.StdEncoding.EncodeToString([]byte("RIFF")))
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", mt)
	assert.Equal(t, []byte("RIFF"), data)

	data, mt, err = ParseDataURL("data:audio/ogg,Ogg%53%00%01")
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", mt)
	assert.Equal(t, []byte("OggS\x00\x01"), data)

	_, _, err = ParseDataURL("data:audio/wav;base64")
	assert.Error(t, err)
	_, _, err = ParseDataURL("data:audio/wav;base64,***")
	assert.Error(t, err)
}

func TestResolveMIME(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "audio/wav", ResolveMIME("", "audio/mpeg", "audio/x-wav"))
	assert.Equal(t, "audio/ogg", ResolveMIME("audio/ogg; codecs=opus", "audio/wav"))
	assert.Equal(t, GenericType, ResolveMIME("audio/mpeg"))
	assert.Equal(t, GenericType, ResolveMIME("application/octet-stream", "text/plain"))
	assert.Equal(t, GenericType, ResolveMIME())
}

func TestTypeFromPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "audio/mp4", TypeFromPath("https://cdn.example.com/a/b.M4A?sig=abc"))
	assert.Equal(t, "audio/wav", TypeFromPath("tts/2024/clip.wav"))
	assert.Equal(t, "audio/flac", TypeFromPath("x.flac"))
	assert.Equal(t, "", TypeFromPath("noext"))
}

func TestResolve_Base64BlobWAV(t *testing.T) {
	t.Parallel()

	wav := wavBytes(250)
	gens := fakeGenerations{"g1": {ID: "g1", AudioData: []byte(base64.StdEncoding.EncodeToString(wav))}}

	a, err := newTestResolver(gens, nil).Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, a.Data, 250)
	assert.Equal(t, wav, a.Data)
	assert.Equal(t, "audio/wav", a.MIMEType)
	assert.Equal(t, SourceBlob, a.Source)
}

func TestResolve_DataURLFirst(t *testing.T) {
	t.Parallel()

	wav := wavBytes(128)
	gens := fakeGenerations{"g1": {
		ID:        "g1",
		AudioURL:  strPtr("data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)),
		AudioData: []byte("ignored"),
	}}

	a, err := newTestResolver(gens, nil).Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, SourceDataURL, a.Source)
	assert.Equal(t, "audio/wav", a.MIMEType)
	assert.Equal(t, wav, a.Data)
}

func TestResolve_RemoteUsesResponseContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("OggS-not-really"))
	}))
	t.Cleanup(srv.Close)

	gens := fakeGenerations{"g1": {ID: "g1", AudioURL: strPtr(srv.URL + "/clip"), MimeType: strPtr("audio/mpeg")}}

	a, err := newTestResolver(gens, nil).Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, a.Source)
	assert.Equal(t, "audio/ogg", a.MIMEType)
}

func TestResolve_RemoteFailureFallsBackToBlob(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	gens := fakeGenerations{"g1": {ID: "g1", AudioURL: strPtr(srv.URL + "/clip.mp3"), AudioData: wavBytes(200)}}

	a, err := newTestResolver(gens, nil).Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, SourceBlob, a.Source)
	assert.Equal(t, "audio/wav", a.MIMEType)
}

func TestResolve_ObjectStore(t *testing.T) {
	t.Parallel()

	gens := fakeGenerations{"g1": {ID: "g1", StorageKey: strPtr("tts/g1.flac")}}
	objects := fakeObjects{"tts/g1.flac": {Data: []byte("fLaC-ish"), ContentType: "application/octet-stream"}}

	a, err := newTestResolver(gens, objects).Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, SourceObject, a.Source)
	assert.Equal(t, "audio/flac", a.MIMEType)
}

func TestResolve_Unavailable(t *testing.T) {
	t.Parallel()

	gens := fakeGenerations{
		"empty":  {ID: "empty"},
		"broken": {ID: "broken", AudioURL: strPtr("data:audio/wav;base64,@@@"), StorageKey: strPtr("missing.wav")},
	}
	r := newTestResolver(gens, fakeObjects{})

	for _, id := range []string{"empty", "broken", "unknown"} {
		_, err := r.Resolve(context.Background(), id)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, ErrUnavailable), id)
	}

	_, err := r.Resolve(context.Background(), "broken")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestResolve_GenericWhenNothingConfident(t *testing.T) {
	t.Parallel()

	gens := fakeGenerations{"g1": {ID: "g1", AudioData: []byte{0x00, 0x01, 0x02, 0x03, 0x04}}}

	a, err := newTestResolver(gens, nil).Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, GenericType, a.MIMEType)
}
