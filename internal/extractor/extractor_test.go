package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlutzyFella/Papyrus/internal/logger"
)

type fakeSource struct {
	pages [][]string
	err   error
	panic bool
	delay time.Duration
	calls int32
}

func (f *fakeSource) Pages(ctx context.Context, _ []byte) ([][]string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.panic {
		panic("bad xref")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.pages, f.err
}

func newService(src PageSource, timeout time.Duration) *Service {
	return NewWithSource("fake", src, timeout, logger.Nop())
}

func TestExtractJoinsPagesAndFragments(t *testing.T) {
	src := &fakeSource{pages: [][]string{{"Invoice", "2024"}, {"Total:", "$4,200"}}}
	text, err := newService(src, time.Second).Extract(context.Background(), []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Invoice 2024\nTotal: $4,200", text)
}

func TestExtractNoTextIsValid(t *testing.T) {
	src := &fakeSource{pages: [][]string{{}, {}}}
	text, err := newService(src, time.Second).Extract(context.Background(), nil, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "\n", text)

	src = &fakeSource{pages: [][]string{{}}}
	text, err = newService(src, time.Second).Extract(context.Background(), nil, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestExtractRejectsNonPDFBeforeDecoding(t *testing.T) {
	src := &fakeSource{pages: [][]string{{"x"}}}
	svc := newService(src, time.Second)

	for _, mt := range []string{"image/png", "text/plain", "", "application/pdfx", "not a media type;;"} {
		_, err := svc.Extract(context.Background(), []byte("%PDF-1.4"), mt)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, mt)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.calls))
}

func TestExtractAcceptsMediaTypeParameters(t *testing.T) {
	src := &fakeSource{pages: [][]string{{"ok"}}}
	text, err := newService(src, time.Second).Extract(context.Background(), nil, "Application/PDF; charset=binary")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestExtractFailures(t *testing.T) {
	cases := map[string]*fakeSource{
		"decode error": {err: errors.New("malformed xref")},
		"panic":        {panic: true},
		"zero pages":   {pages: [][]string{}},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			text, err := newService(src, time.Second).Extract(context.Background(), nil, "application/pdf")
			assert.ErrorIs(t, err, ErrExtractionFailed)
			assert.Empty(t, text)
		})
	}
}

func TestExtractTimeout(t *testing.T) {
	src := &fakeSource{pages: [][]string{{"late"}}, delay: time.Second}
	_, err := newService(src, 20*time.Millisecond).Extract(context.Background(), nil, "application/pdf")
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("application/pdf"))
	assert.True(t, IsPDF("application/pdf; name=a.pdf"))
	assert.False(t, IsPDF("application/octet-stream"))
}

// buildPDF 生成一个最小的 PDF，每个元素是一页的内容流
func buildPDF(contents ...string) []byte {
	var objs []string
	kids := ""
	for i := range contents {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(contents)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, c := range contents {
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestLocalSourceReadsRealPDF(t *testing.T) {
	data := buildPDF(
		"BT /F1 12 Tf 72 720 Td (Invoice 2024) Tj 0 -14 Td [(Tot) -20 (al:)] TJ ($4,200) ' ET",
		"BT /F1 12 Tf 72 720 Td (Page two) Tj ET",
	)
	svc := NewWithSource("local", LocalSource{}, 5*time.Second, logger.Nop())

	text, err := svc.Extract(context.Background(), data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Invoice 2024 Total: $4,200\nPage two", text)
}

func TestLocalSourcePageWithoutText(t *testing.T) {
	data := buildPDF("0 0 m 100 100 l S")
	svc := NewWithSource("local", LocalSource{}, 5*time.Second, logger.Nop())

	text, err := svc.Extract(context.Background(), data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestLocalSourceCorruptInput(t *testing.T) {
	svc := NewWithSource("local", LocalSource{}, 5*time.Second, logger.Nop())

	inputs := [][]byte{
		[]byte("%PDF-1.4 this is not really a pdf"),
		bytes.Repeat([]byte("garbage "), 64),
		buildPDF("BT (x) Tj ET")[:200],
	}
	for _, data := range inputs {
		text, err := svc.Extract(context.Background(), data, "application/pdf")
		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Empty(t, text)
	}
}
