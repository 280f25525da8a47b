package parser

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/nfp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// builtinFormats holds the standard codes of the built-in number formats.
var builtinFormats = map[int]string{
	0:  "General",
	1:  "0",
	2:  "0.00",
	3:  "#,##0",
	4:  "#,##0.00",
	5:  `"$"#,##0_);("$"#,##0)`,
	6:  `"$"#,##0_);[Red]("$"#,##0)`,
	7:  `"$"#,##0.00_);("$"#,##0.00)`,
	8:  `"$"#,##0.00_);[Red]("$"#,##0.00)`,
	9:  "0%",
	10: "0.00%",
	11: "0.00E+00",
	12: "# ?/?",
	13: "# ??/??",
	14: "m/d/yy",
	15: "d-mmm-yy",
	16: "d-mmm",
	17: "mmm-yy",
	18: "h:mm AM/PM",
	19: "h:mm:ss AM/PM",
	20: "h:mm",
	21: "h:mm:ss",
	22: "m/d/yy h:mm",
	37: "#,##0_);(#,##0)",
	38: "#,##0_);[Red](#,##0)",
	39: "#,##0.00_);(#,##0.00)",
	40: "#,##0.00_);[Red](#,##0.00)",
	41: `_(* #,##0_);_(* \(#,##0\);_(* "-"_);_(@_)`,
	42: `_("$"* #,##0_);_("$"* \(#,##0\);_("$"* "-"_);_(@_)`,
	43: `_(* #,##0.00_);_(* \(#,##0.00\);_(* "-"??_);_(@_)`,
	44: `_("$"* #,##0.00_);_("$"* \(#,##0.00\);_("$"* "-"??_);_(@_)`,
	45: "mm:ss",
	46: "[h]:mm:ss",
	47: "mmss.0",
	48: "##0.0E+0",
	49: "@",
}

// BuiltinFormatCode returns the standard code of a built-in format id.
func BuiltinFormatCode(id int) string {
	return builtinFormats[id]
}

// isBuiltinDateID covers the western date/time ids plus the locale
// specific CJK date ids (27-36, 50-58).
func isBuiltinDateID(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

// IsDateFormat reports whether numbers formatted with f are dates.
func IsDateFormat(f NumberFormat) bool {
	if isBuiltinDateID(f.ID) {
		return true
	}
	code := strings.TrimSpace(f.Code)
	if code == "" || strings.EqualFold(code, "General") {
		return false
	}
	p := nfp.NumberFormatParser()
	for _, section := range p.Parse(code) {
		for _, tok := range section.Items {
			switch tok.TType {
			case nfp.TokenTypeDateTimes, nfp.TokenTypeElapsedDateTimes:
				return true
			}
		}
	}
	return false
}

// currencyGlyphs are the symbols that make a numeric format a currency.
const currencyGlyphs = "¥￥$€£"

// IsCurrencyFormat reports whether the format code carries a currency glyph.
func IsCurrencyFormat(f NumberFormat) bool {
	return strings.ContainsAny(f.Code, currencyGlyphs)
}

// formatGeneral renders a number the way the General format shows it.
func formatGeneral(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var groupingPrinter = message.NewPrinter(language.English)

// FormatNumber renders v with a numeric format code. It understands the
// subset used by currency, grouping, fixed-decimal and percent formats:
// sections, literals, [$sym-lcid] currency tags, padding and fill
// directives. Codes outside that subset fall back to General.
func FormatNumber(v float64, code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, "General") {
		return formatGeneral(v)
	}
	p := nfp.NumberFormatParser()
	sections := p.Parse(code)
	if len(sections) == 0 {
		return formatGeneral(v)
	}
	section := sections[0]
	negative := v < 0
	if negative {
		v = -v
		if len(sections) > 1 && len(sections[1].Items) > 0 {
			section = sections[1]
			negative = false
		}
	}

	var prefix, suffix strings.Builder
	decimals, grouping, percent, seenDigit, afterPoint := 0, false, false, false, false
	lit := func(s string) {
		if seenDigit {
			suffix.WriteString(s)
		} else {
			prefix.WriteString(s)
		}
	}
	for _, tok := range section.Items {
		switch tok.TType {
		case nfp.TokenTypeZeroPlaceHolder, nfp.TokenTypeHashPlaceHolder, nfp.TokenTypeDigitalPlaceHolder:
			seenDigit = true
			if afterPoint {
				decimals += utf8.RuneCountInString(tok.TValue)
			}
		case nfp.TokenTypeDecimalPoint:
			if afterPoint {
				lit(tok.TValue)
				continue
			}
			afterPoint, seenDigit = true, true
		case nfp.TokenTypeThousandsSeparator:
			if seenDigit && !afterPoint {
				grouping = true
			}
		case nfp.TokenTypePercent:
			percent = true
			lit(tok.TValue)
		case nfp.TokenTypeLiteral:
			lit(tok.TValue)
		case nfp.TokenTypeAlignment:
			lit(" ")
		case nfp.TokenTypeCurrencyLanguage:
			for _, part := range tok.Parts {
				if part.Token.TType == nfp.TokenSubTypeCurrencyString {
					lit(part.Token.TValue)
				}
			}
		case nfp.TokenTypeColor, nfp.TokenTypeCondition, nfp.TokenTypeRepeatsChar, nfp.TokenTypeSwitchArgument:
		default:
			return formatGeneral(signed(v, negative))
		}
	}
	if !seenDigit {
		return strings.TrimSpace(prefix.String())
	}
	if percent {
		v *= 100
	}

	var digits string
	if grouping {
		digits = groupingPrinter.Sprint(number.Decimal(v, number.Scale(decimals)))
	} else {
		digits = strconv.FormatFloat(v, 'f', decimals, 64)
	}
	out := prefix.String() + digits + suffix.String()
	if negative {
		out = "-" + strings.TrimSpace(out)
	}
	return strings.TrimSpace(out)
}

func signed(v float64, negative bool) float64 {
	if negative {
		return -v
	}
	return v
}
