package utils

import (
	"strconv"
	"time"
)

var chineseDigits = []string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}

// FormatChineseDate returns the local date as 2006年1月2日.
func FormatChineseDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	localTime := t.In(time.Local)
	return strconv.Itoa(localTime.Year()) + "年" +
		strconv.Itoa(int(localTime.Month())) + "月" +
		strconv.Itoa(localTime.Day()) + "日"
}

// FormatChineseDatePtr returns the Chinese formatted date for pointer values.
func FormatChineseDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatChineseDate(*t)
}

// ChineseNumeral spells 0-99 in Chinese numerals, as used for review rounds
// (第二轮). Other values fall back to Arabic digits.
func ChineseNumeral(n int) string {
	if n < 0 || n > 99 {
		return strconv.Itoa(n)
	}
	if n < 10 {
		return chineseDigits[n]
	}

	tens, ones := n/10, n%10
	text := "十"
	if tens > 1 {
		text = chineseDigits[tens] + text
	}
	if ones > 0 {
		text += chineseDigits[ones]
	}
	return text
}
