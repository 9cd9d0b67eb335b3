package extractor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// LocalSource 使用纯 Go 的 PDF 解码器在进程内解析
type LocalSource struct{}

// Pages 按页码 1..N 解析每一页的文本片段
// 每个文本显示操作符（Tj、TJ、'、"）产生一个片段，TJ 中的字距调整忽略
func (LocalSource) Pages(ctx context.Context, data []byte) (pages [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf decoder panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	n := reader.NumPage()
	pages = make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			return nil, fmt.Errorf("page %d missing", i)
		}
		pages = append(pages, pageFragments(page))
	}
	return pages, nil
}

// pageFragments 按内容流顺序收集页面的文本片段
func pageFragments(page pdf.Page) []string {
	fragments := make([]string, 0)
	var enc pdf.TextEncoding

	show := func(raw string) {
		text := raw
		if enc != nil {
			text = enc.Decode(raw)
		}
		if text != "" {
			fragments = append(fragments, text)
		}
	}

	handle := func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "Tf":
			if n >= 1 {
				enc = page.Font(args[0].Name()).Encoder()
			}
		case "Tj", "'":
			if n >= 1 {
				show(args[n-1].RawString())
			}
		case "\"":
			if n >= 3 {
				show(args[2].RawString())
			}
		case "TJ":
			if n < 1 {
				return
			}
			var buf bytes.Buffer
			arr := args[0]
			for i := 0; i < arr.Len(); i++ {
				if x := arr.Index(i); x.Kind() == pdf.String {
					buf.WriteString(x.RawString())
				}
			}
			show(buf.String())
		}
	}

	contents := page.V.Key("Contents")
	switch contents.Kind() {
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), handle)
		}
	case pdf.Stream:
		pdf.Interpret(contents, handle)
	}
	return fragments
}
