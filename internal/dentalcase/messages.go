package dentalcase

import (
	"fmt"
	"strings"
)

// Message rendering for the broadcast channel. The group message is
// sanitized: complaint and demographics only. Phone and medical detail
// appear exclusively in the private message to the confirmed assignee.

func BroadcastText(c *Case) string {
	var b strings.Builder

	b.WriteString("📢 *New case available* 🦷\n\n")
	fmt.Fprintf(&b, "🆔 *Case:* `%s`\n", c.ID)
	fmt.Fprintf(&b, "🎂 *Age:* %d | %s\n", c.Age, c.Gender)
	fmt.Fprintf(&b, "📍 *District:* %s\n\n", c.District)
	b.WriteString("🛑 *Chief complaint:*\n")
	for _, p := range c.Problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\n⚠️ Contact details and medical history are hidden. ")
	b.WriteString("They are released only to the student who claims the case first.")

	return b.String()
}

func LockedBroadcastText(c *Case, studentName string) string {
	return BroadcastText(c) + fmt.Sprintf("\n\n🔒 *Claimed by:* %s", studentName)
}

func PendingReviewBroadcastText(c *Case, studentName string) string {
	return BroadcastText(c) + fmt.Sprintf("\n\n⏳ *Under review for:* %s", studentName)
}

// PrivateDetailsText carries the sensitive payload. Only ever sent to
// the confirmed assignee's own chat.
func PrivateDetailsText(c *Case) string {
	var b strings.Builder

	b.WriteString("🎉 *The case has been assigned to you.*\n\n")
	b.WriteString("📝 *Patient details:*\n")
	fmt.Fprintf(&b, "🆔 Case: `%s`\n", c.ID)
	fmt.Fprintf(&b, "👤 Name: *%s*\n", c.FullName)
	fmt.Fprintf(&b, "📞 Phone: `%s`\n", c.Phone)
	fmt.Fprintf(&b, "📍 District: %s\n\n", c.District)

	b.WriteString("⚠️ *Medical history:*\n")
	if len(c.MedicalHistory) == 0 {
		b.WriteString("No declared chronic conditions\n")
	} else {
		for _, m := range c.MedicalHistory {
			fmt.Fprintf(&b, "⚠️ %s\n", m)
		}
	}

	b.WriteString("\n💬 *Notes:*\n")
	if notes := strings.TrimSpace(c.MedicalNotes); notes != "" {
		b.WriteString(notes + "\n")
	} else {
		b.WriteString("None\n")
	}

	b.WriteString("\n📌 Contact the patient immediately to schedule the first visit. ")
	b.WriteString("You are responsible for this case before your supervisor.")

	return b.String()
}

func WaitingApprovalText(c *Case) string {
	return fmt.Sprintf("⏳ Your claim for case `%s` was recorded. "+
		"Patient details will be sent once the admin approves the assignment.", c.ID)
}

func ClaimRejectedText(c *Case) string {
	return fmt.Sprintf("❌ Your claim for case `%s` was not approved. "+
		"The case has been reopened for other students.", c.ID)
}
