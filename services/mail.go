package services

import (
	"fmt"
	"strings"
	"time"
)

// Outbound email bodies. Plain fmt-built HTML, kept intentionally small;
// rendering pipelines live outside this library.

const (
	mailTagLoginNotification = "security_notification"
	mailTagPasswordReset     = "password_reset"
	mailTagVerification      = "email_verification"
)

func loginNotificationSubject() string {
	return "New Login to Your Account"
}

func loginNotificationBody(name string, at time.Time, ip, userAgent string) string {
	return fmt.Sprintf(`<div>
	<h2>Login Notification</h2>
	<p>Hello %s,</p>
	<p>Your account was accessed on <strong>%s</strong>.</p>
	<ul>
		<li><strong>IP Address:</strong> %s</li>
		<li><strong>Device:</strong> %s</li>
	</ul>
	<p>If this was you, no further action is needed. If you don't recognize this login, please secure your account immediately.</p>
</div>`, name, at.Format("January 2, 2006 at 3:04 PM MST"), ip, describeUserAgent(userAgent))
}

func passwordResetSubject() string {
	return "Reset Your Password"
}

func passwordResetBody(name, resetURL string, expiresIn time.Duration) string {
	return fmt.Sprintf(`<div>
	<h2>Password Reset Request</h2>
	<p>Hello %s,</p>
	<p>We received a request to reset your password. Open the link below to set a new one:</p>
	<p><a href="%s">Reset your password</a></p>
	<ul>
		<li>This link expires in %s</li>
		<li>It can only be used once</li>
		<li>If you didn't request this, you can safely ignore this email</li>
	</ul>
	<p style="word-break: break-all">%s</p>
</div>`, name, resetURL, formatHours(expiresIn), resetURL)
}

func verificationSubject() string {
	return "Verify Your Email Address"
}

func verificationBody(name, verifyURL string, expiresIn time.Duration) string {
	return fmt.Sprintf(`<div>
	<h2>Welcome!</h2>
	<p>Hello %s,</p>
	<p>To complete your registration, please verify your email address:</p>
	<p><a href="%s">Verify my email</a></p>
	<ul>
		<li>This link expires in %s</li>
		<li>If you didn't create this account, you can safely ignore this email</li>
	</ul>
	<p style="word-break: break-all">%s</p>
</div>`, name, verifyURL, formatHours(expiresIn), verifyURL)
}

func magicLinkSubject(purpose string) string {
	switch purpose {
	case "login":
		return "Your Magic Login Link"
	case "email_verification":
		return "Verify Your Email Address"
	case "password_reset":
		return "Reset Your Password"
	case "welcome":
		return "Welcome!"
	default:
		return "Your Secure Access Link"
	}
}

func magicLinkBody(name, magicURL, purpose string, expiresIn time.Duration, customMessage string) string {
	message := customMessage
	if message == "" {
		switch purpose {
		case "login":
			message = "Click the link below to securely log in to your account:"
		case "email_verification":
			message = "Click the link below to verify your email address:"
		case "password_reset":
			message = "Click the link below to reset your password:"
		case "welcome":
			message = "Welcome! Click the link below to get started:"
		default:
			message = "Click the link below to continue:"
		}
	}

	return fmt.Sprintf(`<div>
	<h2>%s</h2>
	<p>Hello %s,</p>
	<p>%s</p>
	<p><a href="%s">Continue</a></p>
	<ul>
		<li>This link expires in %s</li>
		<li>If you didn't request this, you can safely ignore this email</li>
	</ul>
	<p style="word-break: break-all">%s</p>
</div>`, magicLinkSubject(purpose), name, message, magicURL, formatHours(expiresIn), magicURL)
}

// describeUserAgent maps a raw user-agent string to a friendly name.
func describeUserAgent(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Edge"):
		return "Microsoft Edge"
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome Browser"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox Browser"
	case strings.Contains(userAgent, "Safari"):
		return "Safari Browser"
	default:
		return "Unknown Browser"
	}
}

func formatHours(d time.Duration) string {
	hours := int(d.Hours())
	if hours <= 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
