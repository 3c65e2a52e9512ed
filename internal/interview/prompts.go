package interview

import (
	"fmt"
	"strings"
)

func introText(iv Interview) string {
	var b strings.Builder
	name := iv.CandidateName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hello %s, thank you for joining us today. ", name)
	role := iv.JobTitle
	if role == "" {
		role = "open"
	}
	if iv.CompanyName != "" {
		fmt.Fprintf(&b, "I'll be conducting your interview for the %s position at %s. ", role, iv.CompanyName)
	} else {
		fmt.Fprintf(&b, "I'll be conducting your interview for the %s position. ", role)
	}
	switch n := len(iv.Questions); n {
	case 0:
		b.WriteString("We don't have any questions prepared today.")
	case 1:
		b.WriteString("We have 1 question to go through. Let's get started.")
	default:
		fmt.Fprintf(&b, "We have %d questions to go through. Let's get started.", n)
	}
	return b.String()
}

func closingText(iv Interview) string {
	name := iv.CandidateName
	if name == "" {
		return "Thank you for your time today. That concludes our interview. The hiring team will review your responses and be in touch about next steps."
	}
	return fmt.Sprintf("Thank you for your time today, %s. That concludes our interview. The hiring team will review your responses and be in touch about next steps.", name)
}
