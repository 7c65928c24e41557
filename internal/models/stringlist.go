// internal/models/stringlist.go
package models

import (
	"encoding/json"
	"strings"
)

// StringList 兼容配置文件中"单个字符串或字符串数组"两种写法
type StringList []string

// UnmarshalJSON 实现宽容解析：字符串、字符串数组均可
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = StringList(list)
	return nil
}

// MarshalJSON 单值时按字符串输出，保持配置文件回写的原样
func (s StringList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// Join 拼接为顿号分隔的一行
func (s StringList) Join() string {
	return strings.Join([]string(s), "、")
}

// UnmarshalJSON 解析互动策略，保留 sensitive_topics 之外的条目到 Extra
func (ip *InteractionPolicy) UnmarshalJSON(data []byte) error {
	var raw map[string]StringList
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ip.Extra = make(map[string]StringList)
	for k, v := range raw {
		if k == "sensitive_topics" {
			ip.SensitiveTopics = []string(v)
			continue
		}
		ip.Extra[k] = v
	}
	return nil
}
