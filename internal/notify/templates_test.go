package notify

import "testing"

func TestArabicDigits(t *testing.T) {
	cases := map[int]string{
		0:   "٠",
		4:   "٤",
		17:  "١٧",
		200: "٢٠٠",
		-3:  "-٣",
	}
	for in, want := range cases {
		if got := ArabicDigits(in); got != want {
			t.Fatalf("ArabicDigits(%d)=%q, want %q", in, got, want)
		}
	}
}

func TestMessages(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{CallMessage(4, "عيادة الأسنان"), "على العميل رقم ٤ التوجه إلى عيادة الأسنان"},
		{NameCallMessage("محمد", "عيادة العيون"), "على محمد التوجه إلى عيادة العيون"},
		{EmergencyMessage("الطوارئ"), "حالة طارئة في الطوارئ - الرجاء التوجه فوراً"},
		{TransferMessage(7, "عيادة أ"), "تم تحويل العميل رقم ٧ من عيادة أ"},
		{ConnectionMessage(false), "فقد الاتصال بقاعدة البيانات"},
		{ConnectionMessage(true), "تم إعادة الاتصال بقاعدة البيانات"},
	}
	for _, tt := range cases {
		if tt.got != tt.want {
			t.Fatalf("got %q, want %q", tt.got, tt.want)
		}
	}
}
