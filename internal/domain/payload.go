package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject 请求体不是 JSON 对象
var ErrNotObject = errors.New("payload is not a JSON object")

// Payload 保持插入顺序的键值集合，用于承载 webhook 请求体。
// 渲染通知时字段按发送方给出的顺序展示。
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload 创建空的 Payload
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// PayloadFromPairs 依次写入键值对，便于构造测试数据
func PayloadFromPairs(pairs ...any) *Payload {
	p := NewPayload()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		p.Set(key, pairs[i+1])
	}
	return p
}

// Set 写入字段，已存在的键保持原位置
func (p *Payload) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get 读取字段
func (p *Payload) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Delete 删除字段
func (p *Payload) Delete(key string) {
	if p == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Pop 取出并删除字段
func (p *Payload) Pop(key string) (any, bool) {
	v, ok := p.Get(key)
	if ok {
		p.Delete(key)
	}
	return v, ok
}

// Len 字段数量
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys 按顺序返回所有键的副本
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Range 按顺序遍历字段，fn 返回 false 时停止
func (p *Payload) Range(fn func(key string, value any) bool) {
	if p == nil {
		return
	}
	for _, k := range p.keys {
		if !fn(k, p.values[k]) {
			return
		}
	}
}

// Clone 浅拷贝
func (p *Payload) Clone() *Payload {
	out := NewPayload()
	p.Range(func(k string, v any) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// MarshalJSON 按插入顺序输出 JSON 对象
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 解析 JSON 对象并保留顶层键顺序。
// 数值以 json.Number 保存，避免整数被渲染成浮点格式。
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}

	p.keys = nil
	p.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		p.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after JSON object")
	}
	return nil
}

// ParsePayload 将字节解析为 Payload，非对象返回 ErrNotObject
func ParsePayload(data []byte) (*Payload, error) {
	p := NewPayload()
	if err := p.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return p, nil
}
