package invoice

import "strconv"

var (
	unitWords = [...]string{"", "واحد", "اثنان", "ثلاثة", "أربعة", "خمسة", "ستة", "سبعة", "ثمانية", "تسعة"}
	teenWords = [...]string{"عشرة", "أحد عشر", "اثنا عشر", "ثلاثة عشر", "أربعة عشر", "خمسة عشر", "ستة عشر", "سبعة عشر", "ثمانية عشر", "تسعة عشر"}
	tenWords  = [...]string{"", "", "عشرون", "ثلاثون", "أربعون", "خمسون", "ستون", "سبعون", "ثمانون", "تسعون"}
)

// AmountInWords spells out n in Arabic for 0..99. Larger (and negative) values
// are returned as plain numerals; hundreds and thousands are not decomposed.
func AmountInWords(n int64) string {
	switch {
	case n == 0:
		return "صفر"
	case n < 0 || n >= 100:
		return strconv.FormatInt(n, 10)
	case n < 10:
		return unitWords[n]
	case n < 20:
		return teenWords[n-10]
	}
	tens, ones := n/10, n%10
	if ones == 0 {
		return tenWords[tens]
	}
	return tenWords[tens] + " و " + unitWords[ones]
}
