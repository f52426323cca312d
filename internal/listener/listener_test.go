package listener

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/clip/cliptest"
	"go.klb.dev/clipkeep/internal/format"
)

type recorder struct {
	mu     sync.Mutex
	texts  []string
	images [][]byte
	err    error
	panics int
}

func (r *recorder) AddText(_ context.Context, text string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics > 0 {
		r.panics--
		panic("boom")
	}
	if r.err != nil {
		err := r.err
		r.err = nil
		return false, err
	}
	r.texts = append(r.texts, text)
	return true, nil
}

func (r *recorder) AddImage(_ context.Context, data []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, data)
	return true, nil
}

func (r *recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recorder) Images() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.images...)
}

func start(t *testing.T, opts Options) (*Listener, *cliptest.Fake, *recorder) {
	t.Helper()
	f := cliptest.New()
	rec := &recorder{}
	l := New(f, rec, opts)
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop(time.Second) })
	return l, f, rec
}

func testDIB(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: 0x12, G: 0x34, B: 0x56, A: 0xff})
	dib, err := format.EncodeDIB(img)
	require.NoError(t, err)
	return dib
}

func TestListener_Lifecycle(t *testing.T) {
	f := cliptest.New()
	l := New(f, &recorder{}, Options{})
	assert.Equal(t, Uninitialized, l.State())

	require.NoError(t, l.Start())
	assert.Eventually(t, func() bool { return l.State() == Listening }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.Listeners())

	require.NoError(t, l.Stop(time.Second))
	assert.Equal(t, Stopped, l.State())
	assert.Zero(t, f.Listeners())

	assert.Error(t, l.Start(), "second start")
}

func TestListener_StopBeforeStart(t *testing.T) {
	l := New(cliptest.New(), &recorder{}, Options{})
	require.NoError(t, l.Stop(time.Millisecond))
	assert.Equal(t, Stopped, l.State())
}

func TestListener_RegistrationFailure(t *testing.T) {
	f := cliptest.New()
	f.SetListenErr(errors.New("no window station"))
	l := New(f, &recorder{}, Options{})

	err := l.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no window station")
	assert.Equal(t, Stopped, l.State())
	assert.NoError(t, l.Stop(time.Second))
}

func TestListener_CapturesByPriority(t *testing.T) {
	_, f, rec := start(t, Options{})

	f.Copy("hello")
	f.Copy("   ")
	f.CopyFiles(`C:\a.txt`, `C:\b.txt`)
	f.CopyDIB(testDIB(t, 3, 2))

	assert.Equal(t, []string{"hello", "C:\\a.txt\nC:\\b.txt"}, rec.Texts())

	images := rec.Images()
	require.Len(t, images, 1)
	img, err := png.Decode(bytes.NewReader(images[0]))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0x12, 0x34, 0x56}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestListener_DropsUndecodableAndOversizedImages(t *testing.T) {
	_, f, rec := start(t, Options{MaxImageBytes: 64})

	f.CopyDIB([]byte("not a bitmap at all"))
	f.CopyDIB(testDIB(t, 16, 16))

	assert.Empty(t, rec.Images())
}

func TestListener_SuppressNext(t *testing.T) {
	l, f, rec := start(t, Options{})

	l.SetSuppressNext()
	f.Copy("own write")
	f.Copy("external")
	assert.Equal(t, []string{"external"}, rec.Texts())

	l.SetSuppressNext()
	l.ClearSuppress()
	f.Copy("after rollback")
	assert.Equal(t, []string{"external", "after rollback"}, rec.Texts())
}

func TestListener_RetriesBusyClipboard(t *testing.T) {
	_, f, rec := start(t, Options{OpenBackoff: time.Millisecond})

	f.FailOpens(2)
	f.Copy("third time lucky")
	assert.Equal(t, []string{"third time lucky"}, rec.Texts())
	assert.Equal(t, 3, f.Opens())

	f.FailOpens(3)
	f.Copy("lost")
	assert.Equal(t, 6, f.Opens())
	f.Copy("recovered")
	assert.Equal(t, []string{"third time lucky", "recovered"}, rec.Texts())
}

func TestListener_SurvivesSinkFailures(t *testing.T) {
	_, f, rec := start(t, Options{})

	rec.mu.Lock()
	rec.err = errors.New("disk full")
	rec.panics = 1
	rec.mu.Unlock()

	f.Copy("panics")
	f.Copy("errors")
	f.Copy("stored")
	assert.Equal(t, []string{"stored"}, rec.Texts())
}

type stuckBackend struct {
	*cliptest.Fake
}

type stuckNotifier struct{}

func (stuckNotifier) Run(func()) error { select {} }
func (stuckNotifier) Stop()            {}
func (stuckNotifier) Close() error     { return nil }

func (stuckBackend) Listen() (clip.Notifier, error) { return stuckNotifier{}, nil }

func TestListener_StopTimesOut(t *testing.T) {
	l := New(stuckBackend{cliptest.New()}, &recorder{}, Options{})
	require.NoError(t, l.Start())

	began := time.Now()
	err := l.Stop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(began), time.Second)
}
