package service

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// textDecoder 把声明了非 UTF-8 字符集的字段转为 UTF-8
type textDecoder struct {
	enc encoding.Encoding
}

// newTextDecoder 未知字符集或 UTF-8 时原样返回
func newTextDecoder(charset string) textDecoder {
	charset = strings.ToLower(strings.Trim(strings.TrimSpace(charset), `"`))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii":
		return textDecoder{}
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return textDecoder{}
	}
	return textDecoder{enc: enc}
}

func (d textDecoder) decode(s string) string {
	if d.enc == nil {
		return s
	}
	converted, _, err := transform.String(d.enc.NewDecoder(), s)
	if err != nil {
		return s
	}
	return converted
}
