package parser

import (
	"path/filepath"
	"regexp"
	"strings"
)

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeColumnName 规范化列名：小写、去除换行、压缩空白
func NormalizeColumnName(name string) string {
	name = strings.ReplaceAll(name, "\u00a0", " ")
	name = spaceRe.ReplaceAllString(name, " ")
	return strings.ToLower(strings.TrimSpace(name))
}

// ContainsAny 检查字符串是否包含任意一个关键词，返回命中的关键词
func ContainsAny(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = NormalizeColumnName(kw)
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// ExtractFromFilename 按正则从文件名（不含扩展名）中提取第一个捕获组
// 例如 "Smith_123456_May.xlsx" 配合 `(\d{5,6})` 得到 "123456"
func ExtractFromFilename(path string, re *regexp.Regexp) (string, bool) {
	if re == nil {
		return "", false
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := re.FindStringSubmatch(base)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// IsBlankRow 整行是否为空
func IsBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// containsWord kw 在 text 中出现且两侧不是字母或数字
func containsWord(text, kw string) bool {
	for start := 0; start+len(kw) <= len(text); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		if isBoundary(text, i-1) && isBoundary(text, i+len(kw)) {
			return true
		}
		start = i + 1
	}
	return false
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
