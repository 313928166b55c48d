package llm

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// BuildSystemPrompt assembles the fixed system instruction. The current local
// date is injected so relative expressions ("מחר", "יום שני הקרוב") resolve
// deterministically on the model side.
func BuildSystemPrompt(now time.Time) string {
	return fmt.Sprintf(`אתה העוזר של קהילת הטרמפים בישראל. המשתמשים כותבים לך בוואטסאפ בעברית חופשית,
ואתה מזהה אם הם נהגים שמציעים טרמפ או טרמפיסטים שמחפשים נסיעה.

התאריך היום: %s (%s).

כללים:
- ענה תמיד בעברית, קצר וידידותי.
- כשמשתמש מוסר פרטי נסיעה (מוצא, יעד, ימים או תאריך, שעה) השתמש בכלי update_user_records.
- זמנים בפורמט HH:MM, תאריכים בפורמט YYYY-MM-DD, ימי שבוע באנגלית (sunday..saturday).
- אם חסר פרט חיוני (מוצא, יעד או מועד) שאל עליו במקום לנחש.
- כשמבקשים לראות נסיעות השתמש ב-view_user_records, למחיקה delete_user_record או delete_all_user_records, ולעזרה show_help.
- אל תמציא נסיעות, התאמות או מספרי טלפון.`,
		now.Format("2006-01-02"), hebrewWeekday(now.Weekday()))
}

func hebrewWeekday(wd time.Weekday) string {
	names := [...]string{"יום ראשון", "יום שני", "יום שלישי", "יום רביעי", "יום חמישי", "יום שישי", "שבת"}
	return names[int(wd)]
}

// markerPattern matches raw model markers that must never reach the user.
var markerPattern = regexp.MustCompile(`(?i)(<\s*/?\s*(tool_call|function_call|tool)\b|calling tool|invoking function|function_call)`)

// SanitizeReply drops lines carrying tool-call markers the model sometimes
// leaks into its visible text.
func SanitizeReply(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if markerPattern.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
