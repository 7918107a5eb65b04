package email

import (
	"fmt"
	"strings"
)

// StatusUpdate carries everything the status email needs.
type StatusUpdate struct {
	RMAID       string
	RMANumber   string
	OldStatus   string
	NewStatus   string
	Disposition string
}

var statusHeadlines = map[string]string{
	"SUBMITTED":   "we received your return request",
	"VALIDATING":  "your request is being reviewed",
	"APPROVED":    "your return was approved",
	"REJECTED":    "your return was not approved",
	"SHIPPING":    "we are waiting for your shipment",
	"RECEIVED":    "your items arrived at our warehouse",
	"INSPECTING":  "your items are being inspected",
	"INSPECTED":   "inspection of your items is complete",
	"DISPOSITION": "we decided how to resolve your return",
	"PROCESSING":  "your return is being processed",
	"COMPLETED":   "your return is complete",
	"CANCELLED":   "your return was cancelled",
}

var statusDetails = map[string]string{
	"SUBMITTED":  "We will review your request and get back to you shortly.",
	"APPROVED":   "Please ship the items back to us using the carrier of your choice and register the tracking number.",
	"REJECTED":   "Unfortunately your request did not meet our return policy. Reply to this email if you believe this is a mistake.",
	"RECEIVED":   "Our warehouse has received your package and will inspect the items next.",
	"COMPLETED":  "Everything is done on our side. Depending on the resolution, refunds can take a few business days to appear.",
	"CANCELLED":  "No further action is needed. You can submit a new request while the sale is still eligible.",
}

func statusHeadline(status string) string {
	if h, ok := statusHeadlines[status]; ok {
		return h
	}
	return "your return was updated"
}

// BuildReturnStatusBody renders the HTML body for a return status email.
func BuildReturnStatusBody(u StatusUpdate) string {
	ref := u.RMANumber
	if ref == "" {
		ref = u.RMAID
	}

	var extra strings.Builder
	if detail, ok := statusDetails[u.NewStatus]; ok {
		extra.WriteString(fmt.Sprintf(`<p>%s</p>`, detail))
	}
	if u.NewStatus == "COMPLETED" && u.Disposition != "" {
		extra.WriteString(fmt.Sprintf(
			`<p style="font-size: 14px; color: #666;">Resolution: <strong>%s</strong></p>`,
			u.Disposition))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Return update</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Hello! Here is an update on your return: %s.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Return reference</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<div style="text-align: center; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Current status</span>
			<span style="font-size: 20px; font-weight: bold; color: #667eea; margin-left: 10px;">%s</span>
		</div>

		%s

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. Replies are read by our support team.
		</p>
	</div>
</body>
</html>`,
		statusHeadline(u.NewStatus),
		ref,
		u.NewStatus,
		extra.String(),
	)
}
