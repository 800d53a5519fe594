package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// 识别的日期格式，按优先级排列（月/日/年为美式薪资表的惯例）
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"2006/1/2",
	"2006-1-2",
	"1-2-2006",
	"1-2-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"2 Jan 2006",
	"2 January 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"1/2/2006 15:04:05",
}

// 仅有年月的期间写法，解析为当月 1 日
var monthLayouts = []string{
	"2006-01",
	"2006/01",
	"1/2006",
	"Jan 2006",
	"January 2006",
	"Jan-2006",
	"Jan-06",
}

var shortDateRe = regexp.MustCompile(`^0?(\d{1,2})[/-]0?(\d{1,2})[/-](\d{2,4})$`)

// ParseDate 解析日期文本
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// 兜底：m/d/yy 或 m-d-yyyy，两位年份按 20xx 处理
	m := shortDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// ParsePeriod 解析运行期间（"2024-05"、"05/2024"、"May 2024"），返回该月第一天
func ParsePeriod(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, ok := ParseDate(s); ok {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// PeriodKey 期间的规范写法 "2006-01"
func PeriodKey(t time.Time) string {
	return t.Format("2006-01")
}

// SamePeriod 两个日期是否在同一个自然月
func SamePeriod(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
