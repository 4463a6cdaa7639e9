package worker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/models"
	"leadpilot/utils"
)

// SyncResult aggregates one inbox sync run.
type SyncResult struct {
	MessagesChecked int `json:"messages_checked"`
	RepliesFound    int `json:"replies_found"`
}

// InboxSyncService fetches external mail over IMAP, matches replies against
// outbound actions and classifies them. Replied leads have their active
// enrollments paused.
type InboxSyncService struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewInboxSyncService(db *gorm.DB, logger *log.Logger) *InboxSyncService {
	return &InboxSyncService{
		db:     db,
		logger: logger,
	}
}

// HandleJob adapts the service to the job processor's handler signature.
func (is *InboxSyncService) HandleJob(ctx context.Context, job *models.ScheduledJob) (string, error) {
	var payload models.InboxSyncPayload
	if err := models.DecodeJobPayload(job, &payload); err != nil {
		return "", err
	}

	result, err := is.SyncUser(payload.UserID, payload.Provider)
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(result)
	return string(out), nil
}

// SyncUser fetches unseen mail for every IMAP-configured mailbox of the
// user, optionally filtered by provider.
func (is *InboxSyncService) SyncUser(userID uint, provider string) (SyncResult, error) {
	var result SyncResult

	query := is.db.Where("user_id = ? AND imap_host IS NOT NULL AND imap_host != ''", userID)
	if provider != "" {
		query = query.Where("provider_type = ?", provider)
	}

	var mailboxes []models.Mailbox
	if err := query.Find(&mailboxes).Error; err != nil {
		return result, fmt.Errorf("failed to fetch mailboxes for user %d: %w", userID, err)
	}

	for i := range mailboxes {
		mailbox := &mailboxes[i]
		checked, replies, err := is.fetchFromIMAP(mailbox)
		if err != nil {
			is.logger.Printf("Failed to sync mailbox %d: %v", mailbox.ID, err)
			is.db.Model(mailbox).Update("last_error", err.Error())
			continue
		}
		result.MessagesChecked += checked
		result.RepliesFound += replies

		if err := is.db.Model(mailbox).Updates(map[string]interface{}{
			"last_synced_at": time.Now(),
			"last_error":     nil,
		}).Error; err != nil {
			is.logger.Printf("Failed to stamp sync time on mailbox %d: %v", mailbox.ID, err)
		}
	}

	return result, nil
}

func (is *InboxSyncService) fetchFromIMAP(mailbox *models.Mailbox) (checked, replies int, err error) {
	password, err := utils.Decrypt(mailbox.IMAPPassword)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	var imapClient *client.Client
	imapAddr := fmt.Sprintf("%s:%d", mailbox.IMAPHost, mailbox.IMAPPort)

	switch strings.ToUpper(mailbox.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			ServerName: mailbox.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				ServerName: mailbox.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(mailbox.IMAPUsername, password); err != nil {
		return 0, 0, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	folder := "INBOX"
	if mailbox.IMAPMailbox != "" {
		folder = mailbox.IMAPMailbox
	}
	if _, err := imapClient.Select(folder, false); err != nil {
		return 0, 0, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		checked++
		isReply, err := is.processMessage(msg, mailbox)
		if err != nil {
			is.logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
		if isReply {
			replies++
		}
	}

	if err := <-done; err != nil {
		return checked, replies, fmt.Errorf("error during fetch: %w", err)
	}
	return checked, replies, nil
}

func (is *InboxSyncService) processMessage(msg *imap.Message, mailbox *models.Mailbox) (bool, error) {
	if msg.Envelope == nil {
		return false, fmt.Errorf("message has no envelope")
	}

	// Already stored on an earlier sync
	var count int64
	is.db.Model(&models.InboxMessage{}).
		Where("mailbox_id = ? AND message_id = ?", mailbox.ID, msg.Envelope.MessageId).
		Count(&count)
	if count > 0 {
		return false, nil
	}

	bodyText, bodyHTML, references, err := parseMessageBody(msg)
	if err != nil {
		return false, err
	}

	message := models.InboxMessage{
		UserID:     mailbox.UserID,
		MailboxID:  mailbox.ID,
		MessageID:  msg.Envelope.MessageId,
		InReplyTo:  msg.Envelope.InReplyTo,
		References: references,
		From:       formatAddress(msg.Envelope.From),
		To:         formatAddress(msg.Envelope.To),
		Subject:    msg.Envelope.Subject,
		Body:       bodyText,
		BodyHTML:   bodyHTML,
		Date:       msg.Envelope.Date,
	}

	is.matchReply(&message)

	if err := is.db.Create(&message).Error; err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}

	if message.IsReply {
		is.recordReply(&message)
	}
	return message.IsReply, nil
}

// matchReply links an inbound message to the outbound action it answers:
// first by In-Reply-To/References message IDs, then by sender address plus
// a reply-looking subject.
func (is *InboxSyncService) matchReply(message *models.InboxMessage) {
	refs := strings.Fields(message.References)
	if message.InReplyTo != "" {
		refs = append(refs, message.InReplyTo)
	}

	if len(refs) > 0 {
		var action models.Action
		if err := is.db.Where("message_id IN ?", refs).First(&action).Error; err == nil {
			message.IsReply = true
			message.MatchedActionID = &action.ID
			message.MatchedLeadID = &action.LeadID
			message.Classification = ClassifyReply(message.Subject, message.Body)
			return
		}
	}

	fromEmail := extractEmail(message.From)
	if fromEmail == "" || !looksLikeReply(message.Subject) {
		return
	}

	var lead models.Lead
	if err := is.db.Where("user_id = ? AND email = ?", message.UserID, fromEmail).First(&lead).Error; err != nil {
		return
	}

	message.IsReply = true
	message.MatchedLeadID = &lead.ID
	message.Classification = ClassifyReply(message.Subject, message.Body)

	var action models.Action
	if err := is.db.Where("lead_id = ?", lead.ID).Order("created_at DESC").First(&action).Error; err == nil {
		message.MatchedActionID = &action.ID
	}
}

// recordReply applies the side effects of a matched reply: lead status,
// paused enrollments, the action's replied_at stamp and a notification.
func (is *InboxSyncService) recordReply(message *models.InboxMessage) {
	logrus.WithFields(logrus.Fields{
		"message_id":     message.MessageID,
		"lead_id":        message.MatchedLeadID,
		"classification": message.Classification,
	}).Info("Inbound reply matched")

	if message.MatchedActionID != nil {
		is.db.Model(&models.Action{}).Where("id = ?", *message.MatchedActionID).
			Update("replied_at", time.Now())
	}

	if message.MatchedLeadID == nil {
		return
	}
	leadID := *message.MatchedLeadID

	leadStatus := models.LeadStatusReplied
	switch message.Classification {
	case models.ClassificationInterested:
		leadStatus = models.LeadStatusInterested
	case models.ClassificationUnsubscribe:
		leadStatus = models.LeadStatusUnsubscribed
	}
	if err := is.db.Model(&models.Lead{}).Where("id = ?", leadID).
		Update("status", leadStatus).Error; err != nil {
		is.logger.Printf("Failed to update lead %d status: %v", leadID, err)
	}
	if message.Classification == models.ClassificationUnsubscribe {
		is.db.Model(&models.Lead{}).Where("id = ?", leadID).Update("is_unsubscribed", true)
	}

	// A replied lead should stop receiving sequence mail until a human
	// decides otherwise.
	if err := is.db.Model(&models.SequenceEnrollment{}).
		Where("lead_id = ? AND status = ?", leadID, models.EnrollmentStatusActive).
		Update("status", models.EnrollmentStatusPaused).Error; err != nil {
		is.logger.Printf("Failed to pause enrollments for lead %d: %v", leadID, err)
	}

	notification := models.Notification{
		UserID: message.UserID,
		Kind:   "reply_received",
		Title:  "Reply from " + message.From,
		Body:   message.Subject,
		LeadID: &leadID,
	}
	if err := is.db.Create(&notification).Error; err != nil {
		is.logger.Printf("Failed to create reply notification: %v", err)
	}
}

// parseMessageBody extracts the text and html parts of a fetched message,
// plus the References header, which the envelope does not carry.
func parseMessageBody(msg *imap.Message) (bodyText, bodyHTML, references string, err error) {
	literal := msg.GetBody(&imap.BodySectionName{})
	if literal == nil {
		return "", "", "", nil
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to create message reader: %w", err)
	}
	references = mr.Header.Get("References")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", "", "", fmt.Errorf("failed to read next part: %w", err)
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return "", "", "", fmt.Errorf("failed to read body: %w", err)
			}

			if strings.Contains(contentType, "text/html") {
				bodyHTML = string(b)
			} else if strings.Contains(contentType, "text/plain") {
				bodyText = string(b)
			}
		}
	}
	return bodyText, bodyHTML, references, nil
}

func formatAddress(addrs []*imap.Address) string {
	var result []string
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			result = append(result, fmt.Sprintf("%s <%s>", addr.PersonalName, addr.MailboxName+"@"+addr.HostName))
		} else {
			result = append(result, fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName))
		}
	}
	return strings.Join(result, ", ")
}

func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr[start:], ">"); end != -1 {
			return strings.ToLower(addr[start+1 : start+end])
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func looksLikeReply(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	return strings.HasPrefix(s, "re:") || strings.HasPrefix(s, "aw:")
}

// ClassifyReply buckets a reply by simple keyword heuristics; anything
// ambiguous lands in "other" for a human to read.
func ClassifyReply(subject, body string) string {
	text := strings.ToLower(subject + " " + body)

	switch {
	case containsAny(text, "unsubscribe", "remove me", "stop emailing", "take me off"):
		return models.ClassificationUnsubscribe
	case containsAny(text, "out of office", "on vacation", "auto-reply", "automatic reply", "currently away"):
		return models.ClassificationOutOfOffice
	case containsAny(text, "not interested", "no thanks", "no thank you", "please don't"):
		return models.ClassificationNotInterested
	case containsAny(text, "interested", "sounds good", "let's talk", "schedule a call", "tell me more"):
		return models.ClassificationInterested
	default:
		return models.ClassificationOther
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
