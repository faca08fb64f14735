package dialog

import "testing"

func TestClassifyReply(t *testing.T) {
	cases := []struct {
		text string
		want Reply
	}{
		{"sí", ReplyAffirmative},
		{"si", ReplyAffirmative},
		{"Sí, dale", ReplyAffirmative},
		{"CONFIRMO", ReplyAffirmative},
		{"ok", ReplyAffirmative},
		{"yes", ReplyAffirmative},
		{"correcto.", ReplyAffirmative},
		{"no", ReplyNegative},
		{"No, cancelar", ReplyNegative},
		{"cancelo", ReplyNegative},
		{"cancel", ReplyNegative},
		{"modificar", ReplyModify},
		{"Cambiar el código", ReplyModify},
		{"corregir", ReplyModify},
		{"change the name", ReplyModify},
		{"qué?", ReplyUnrecognized},
		{"simpático", ReplyUnrecognized},
		{"nosotros compramos maíz", ReplyUnrecognized},
		{"", ReplyUnrecognized},
	}
	for _, c := range cases {
		if got := ClassifyReply(c.text); got != c.want {
			t.Errorf("ClassifyReply(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
