/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// KeyNames names the integer keys of a CBOR map. Children describes the value under a key,
// or each element when that value is an array.
type KeyNames struct {
	Names    map[uint64]string
	Children map[uint64]*KeyNames
}

func (k *KeyNames) name(key any) (string, *KeyNames) {
	n, ok := key.(uint64)
	if k == nil || !ok {
		return stringifyCBORKey(key), nil
	}
	child := k.Children[n]
	if name, ok := k.Names[n]; ok {
		return name, child
	}
	return stringifyCBORKey(key), child
}

// RenderCBOR decodes data and renders it as indented JSON, naming map keys with names.
func RenderCBOR(data []byte, names *KeyNames) (string, error) {
	var decoded any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return "", err
	}
	return RenderCBORPretty(decoded, names)
}

// RenderCBORPretty renders an already decoded CBOR item. Byte strings are shown in CBOR
// diagnostic notation.
func RenderCBORPretty(decoded any, names *KeyNames) (string, error) {
	pretty, err := json.MarshalIndent(normaliseCBORForJSON(decoded, names), "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func normaliseCBORForJSON(value any, names *KeyNames) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = normaliseCBORForJSON(elem, names)
		}
		return out
	case map[any]any:
		keys := make([]any, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		// integer keys in numeric order, before any other key
		sort.Slice(keys, func(i, j int) bool {
			a, aok := keys[i].(uint64)
			b, bok := keys[j].(uint64)
			if aok && bok {
				return a < b
			}
			if aok != bok {
				return aok
			}
			return stringifyCBORKey(keys[i]) < stringifyCBORKey(keys[j])
		})
		out := make(map[string]any, len(v))
		for _, key := range keys {
			name, child := names.name(key)
			out[name] = normaliseCBORForJSON(v[key], child)
		}
		return out
	case []byte:
		return fmt.Sprintf("h'%x'", v)
	case cbor.Tag:
		return map[string]any{
			"_cborTag": v.Number,
			"content":  normaliseCBORForJSON(v.Content, names),
		}
	default:
		return v
	}
}

func stringifyCBORKey(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case fmt.Stringer:
		return k.String()
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	default:
		return fmt.Sprint(k)
	}
}
