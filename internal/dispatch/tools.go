// Package dispatch executes the closed set of tool calls the model may emit.
// Every call is validated against its schema before any handler runs.
package dispatch

import "github.com/kfirel/hiker/internal/llm"

// Tool names. The set is closed; anything else is a schema violation.
const (
	ToolUpdateUserRecords    = "update_user_records"
	ToolViewUserRecords      = "view_user_records"
	ToolDeleteUserRecord     = "delete_user_record"
	ToolDeleteAllUserRecords = "delete_all_user_records"
	ToolShowHelp             = "show_help"
)

// Tools returns the schemas advertised to the model.
func Tools() []llm.Tool {
	weekdays := []interface{}{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

	return []llm.Tool{
		{
			Name:        ToolUpdateUserRecords,
			Description: "יצירה או עדכון של נסיעת נהג או בקשת טרמפ. העבר record_id רק בעדכון רשומה קיימת.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"role":        map[string]interface{}{"type": "string", "enum": []interface{}{"driver", "hitchhiker"}},
					"origin":      map[string]interface{}{"type": "string", "description": "יישוב המוצא"},
					"destination": map[string]interface{}{"type": "string", "description": "יישוב היעד"},
					"days": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string", "enum": weekdays},
						"description": "ימי שבוע לנסיעה קבועה של נהג",
					},
					"departure_time":      map[string]interface{}{"type": "string", "description": "שעת יציאה HH:MM"},
					"return_time":         map[string]interface{}{"type": "string", "description": "שעת חזרה HH:MM, לנסיעה קבועה"},
					"travel_date":         map[string]interface{}{"type": "string", "description": "תאריך YYYY-MM-DD לנסיעה חד פעמית"},
					"earliest":            map[string]interface{}{"type": "string", "description": "תחילת חלון זמן HH:MM, לטרמפיסט גמיש"},
					"latest":              map[string]interface{}{"type": "string", "description": "סוף חלון זמן HH:MM, לטרמפיסט גמיש"},
					"flexibility_minutes": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 240},
					"available_seats":     map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 8},
					"record_id":           map[string]interface{}{"type": "string", "description": "מזהה רשומה קיימת לעדכון"},
					"notes":               map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"role", "origin", "destination"},
			},
		},
		{
			Name:        ToolViewUserRecords,
			Description: "הצגת הנסיעות והבקשות הרשומות של המשתמש.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolDeleteUserRecord,
			Description: "מחיקת נסיעה או בקשה לפי מזהה.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"record_id": map[string]interface{}{"type": "string"},
					"role":      map[string]interface{}{"type": "string", "enum": []interface{}{"driver", "hitchhiker"}},
				},
				"required": []interface{}{"record_id", "role"},
			},
		},
		{
			Name:        ToolDeleteAllUserRecords,
			Description: "מחיקת כל הנסיעות והבקשות של המשתמש.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolShowHelp,
			Description: "הצגת הסבר על השימוש בשירות.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// HelpText is the static help reply.
const HelpText = `🚗 ברוכים הבאים לטרמפיאדה!

כך זה עובד:
- נהגים: כתבו מאיפה ולאן אתם נוסעים, באילו ימים ובאיזו שעה.
  למשל: "אני נוסע כל יום ראשון ורביעי מגברעם לתל אביב ב-8:00, יש 3 מקומות"
- טרמפיסטים: כתבו לאן אתם צריכים להגיע ומתי.
  למשל: "מחפש טרמפ מחר מערד לאילת בסביבות 9 בבוקר"

כשנמצאת התאמה, שני הצדדים מקבלים הודעה עם מספר הטלפון של הצד השני.

פקודות שימושיות:
- "מה הנסיעות שלי?" - הצגת הרשומות שלכם
- "תמחק את הנסיעה" - מחיקת רשומה
- "עזרה" - ההודעה הזו`
