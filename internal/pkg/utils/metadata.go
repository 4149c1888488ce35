package utils

import (
	"encoding/base64"
	"sort"
	"strings"
)

// ParseUploadMetadata 解析 Upload-Metadata 请求头
// 格式为逗号分隔的键值对，key 与 base64 编码的 value 之间用空格分隔，如:
//
//	filename ZmlsZS50eHQ=,filetype dGV4dC9wbGFpbg==
//
// 非法的条目会被跳过而不是报错，value 缺省时解析为空字符串。
func ParseUploadMetadata(header string) map[string]string {
	meta := make(map[string]string)

	for _, element := range strings.Split(header, ",") {
		element := strings.TrimSpace(element)

		parts := strings.Split(element, " ")

		if len(parts) > 2 {
			continue
		}

		key := parts[0]
		if key == "" {
			continue
		}

		value := ""
		if len(parts) == 2 {
			// value 不是合法 base64 时忽略该条目
			dec, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				continue
			}

			value = string(dec)
		}

		meta[key] = value
	}

	return meta
}

// SerializeUploadMetadata 把元数据序列化为 Upload-Metadata 响应头格式
// 按 key 排序以保证输出稳定。
func SerializeUploadMetadata(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		valueBase64 := base64.StdEncoding.EncodeToString([]byte(meta[key]))
		pairs = append(pairs, key+" "+valueBase64)
	}

	return strings.Join(pairs, ",")
}
