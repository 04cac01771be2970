package notify

import (
	"strconv"
	"strings"
)

const (
	templateCall               = "call_specific"
	templateCallByName         = "call_by_name"
	templateEmergency          = "call_emergency"
	templateTransfer           = "alert_transfer"
	templateDoctorAlert        = "alert_doctor"
	templateConnectionLost     = "connection_lost"
	templateConnectionRestored = "connection_restored"
	templateScreenEmpty        = "screen_empty"
)

func defaultTemplate(templateID string) string {
	switch templateID {
	case templateCall:
		return "على العميل رقم {number} التوجه إلى {clinic}"
	case templateCallByName:
		return "على {name} التوجه إلى {clinic}"
	case templateEmergency:
		return "حالة طارئة في {clinic} - الرجاء التوجه فوراً"
	case templateTransfer:
		return "تم تحويل العميل رقم {number} من {clinic}"
	case templateDoctorAlert:
		return "مطلوب حضور الطبيب إلى {clinic}"
	case templateConnectionLost:
		return "فقد الاتصال بقاعدة البيانات"
	case templateConnectionRestored:
		return "تم إعادة الاتصال بقاعدة البيانات"
	case templateScreenEmpty:
		return "لا توجد عيادات مرتبطة بهذه الشاشة"
	}
	return ""
}

func renderTemplate(templateID string, vars map[string]string) string {
	body := defaultTemplate(templateID)
	if len(vars) == 0 {
		return body
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

var arabicDigits = [10]rune{'٠', '١', '٢', '٣', '٤', '٥', '٦', '٧', '٨', '٩'}

// ArabicDigits formats n with Arabic-Indic digits.
func ArabicDigits(n int) string {
	var b strings.Builder
	for _, r := range strconv.Itoa(n) {
		if r >= '0' && r <= '9' {
			b.WriteRune(arabicDigits[r-'0'])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func CallMessage(number int, clinicName string) string {
	return renderTemplate(templateCall, map[string]string{"number": ArabicDigits(number), "clinic": clinicName})
}

func NameCallMessage(name, clinicName string) string {
	return renderTemplate(templateCallByName, map[string]string{"name": name, "clinic": clinicName})
}

func EmergencyMessage(clinicName string) string {
	return renderTemplate(templateEmergency, map[string]string{"clinic": clinicName})
}

// TransferMessage is the alert text shown at the receiving clinic.
func TransferMessage(number int, fromClinicName string) string {
	return renderTemplate(templateTransfer, map[string]string{"number": ArabicDigits(number), "clinic": fromClinicName})
}

func DoctorAlertMessage(clinicName string) string {
	return renderTemplate(templateDoctorAlert, map[string]string{"clinic": clinicName})
}

func ConnectionMessage(connected bool) string {
	if connected {
		return defaultTemplate(templateConnectionRestored)
	}
	return defaultTemplate(templateConnectionLost)
}

func EmptyScreenMessage() string {
	return defaultTemplate(templateScreenEmpty)
}
