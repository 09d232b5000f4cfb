// Package gmail composes invoice emails and sends them through the Gmail API.
//
// Compose builds a multipart/mixed RFC 822 message with a short text part and
// the invoice PDF attached as base64. Every line ends in CRLF.
//
// Mailer.Send uploads the message bytes unchanged to the media endpoint
// (upload/gmail/v1/users/me/messages/send?uploadType=media) with
// Content-Type message/rfc822. The Content-Length is the length of the whole
// message, never of the attachment alone.
//
// Example usage:
//
//	msg, err := gmail.Compose(identity, pdf, "2024-01-15", "billing@example.com")
//	if err != nil {
//	    return err
//	}
//	id, err := gmail.NewMailer(httpClient).Send(ctx, runID, msg, token)
package gmail
