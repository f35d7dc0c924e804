package config

import (
	"fmt"

	"github.com/spf13/cast"
)

func convert(mp map[any]any) map[string]any {
	m := make(map[string]any, len(mp))
	for k, v := range mp {
		m[fmt.Sprintf("%v", k)] = v
	}
	return m
}

func normalize(v any) any {
	switch vv := v.(type) {
	case map[any]any:
		return normalize(convert(vv))
	case map[string]any:
		m := make(map[string]any, len(vv))
		for k, e := range vv {
			m[k] = normalize(e)
		}
		return m
	case []any:
		s := make([]any, len(vv))
		for i, e := range vv {
			s[i] = normalize(e)
		}
		return s
	}
	return v
}

// 配置层级合并，key冲突时由读取顺序决定覆盖顺序
func merge(dest, src map[string]any) {
	for sk, sv := range src {
		sm, sok := sv.(map[string]any)
		dm, dok := dest[sk].(map[string]any)
		if sok && dok {
			merge(dm, sm)
			continue
		}
		if sok {
			cp := make(map[string]any, len(sm))
			merge(cp, sm)
			dest[sk] = cp
			continue
		}
		dest[sk] = sv
	}
}

// 搜索
func search(m map[string]any, paths []string) (any, bool) {
	var cur any = m
	for _, path := range paths {
		mp, err := cast.ToStringMapE(cur)
		if err != nil {
			return nil, false
		}
		v, ok := mp[path]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// flatten 展开为 a.b.c -> value
func flatten(src map[string]any, prefix, delimiter string, data map[string]any) map[string]any {
	if data == nil {
		data = make(map[string]any)
	}
	for k, v := range src {
		p := k
		if prefix != "" {
			p = prefix + delimiter + k
		}
		if m, ok := v.(map[string]any); ok {
			flatten(m, p, delimiter, data)
			continue
		}
		data[p] = v
	}
	return data
}
