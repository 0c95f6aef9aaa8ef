package utils

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
)

// CampaignScheduler selects, for each eligible lead of an active campaign,
// the next sequence step, the sending mailbox, and a throttled fire time.
type CampaignScheduler struct {
	db     *gorm.DB
	quota  *QuotaTracker
	logger *logrus.Logger
}

func NewCampaignScheduler(db *gorm.DB, quota *QuotaTracker, logger *logrus.Logger) *CampaignScheduler {
	return &CampaignScheduler{db: db, quota: quota, logger: logger}
}

// PlanCampaign produces one scheduling pass for a campaign. Leads are
// walked in stable order; senders rotate round-robin starting from the
// first eligible sender (rotation state is local to the pass). A lead is
// skipped for the pass only when every eligible sender is at capacity.
// Fire times spread evenly: base*(1+priorSendsThisPass), plus jitter up
// to base/2 when the campaign randomizes delay.
func (cs *CampaignScheduler) PlanCampaign(campaign *models.Campaign) ([]*Intent, error) {
	if campaign.Status != models.CampaignStatusActive {
		return nil, nil
	}

	senders, err := cs.eligibleSenders(campaign.ID)
	if err != nil {
		return nil, err
	}
	if len(senders) == 0 {
		cs.logger.WithField("campaign_id", campaign.ID).Debug("no eligible senders, skipping pass")
		return nil, nil
	}

	var steps []models.SequenceStep
	if err := cs.db.
		Where("campaign_id = ? AND is_active = ?", campaign.ID, true).
		Order("step_number ASC").
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch sequence steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}

	leads, err := cs.eligibleLeads(campaign.ID)
	if err != nil {
		return nil, err
	}

	baseDelay := time.Duration(campaign.DelayBetweenEmails) * time.Second
	now := time.Now()
	rotation := 0

	var intents []*Intent
	for i := range leads {
		lead := &leads[i]

		step, err := cs.nextStepForLead(campaign.ID, lead, steps)
		if err != nil {
			return intents, err
		}
		if step == nil {
			continue
		}

		var reservation *Reservation
		var chosen *models.Sender
		for attempt := 0; attempt < len(senders); attempt++ {
			candidate := &senders[rotation%len(senders)]
			rotation++

			r, err := cs.quota.TryReserve(candidate.ID)
			if errors.Is(err, ErrQuotaExhausted) {
				continue
			} else if err != nil {
				return intents, err
			}
			reservation = r
			chosen = candidate
			break
		}
		if reservation == nil {
			cs.logger.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"lead_id":     lead.ID,
			}).Debug("all senders at capacity, lead skipped for this pass")
			continue
		}

		delay := baseDelay * time.Duration(1+len(intents))
		if campaign.RandomizeDelay && baseDelay > 0 {
			delay += time.Duration(rand.Int63n(int64(baseDelay / 2)))
		}

		campaignID := campaign.ID
		leadID := lead.ID
		intents = append(intents, &Intent{
			Type:        models.EmailTypeCampaign,
			UserID:      campaign.UserID,
			SenderID:    chosen.ID,
			Recipient:   lead.Email,
			Subject:     RenderTemplate(step.Subject, lead),
			Body:        RenderTemplate(step.Body, lead),
			FireAt:      now.Add(delay),
			CampaignID:  &campaignID,
			LeadID:      &leadID,
			StepNumber:  step.StepNumber,
			Reservation: reservation,
		})
	}

	return intents, nil
}

// eligibleSenders are the campaign's joined, active mailboxes in stable
// order.
func (cs *CampaignScheduler) eligibleSenders(campaignID uint) ([]models.Sender, error) {
	var senders []models.Sender
	err := cs.db.
		Joins("JOIN campaign_senders ON campaign_senders.sender_id = senders.id").
		Where("campaign_senders.campaign_id = ? AND senders.is_active = ?", campaignID, true).
		Where("campaign_senders.deleted_at IS NULL").
		Order("senders.id ASC").
		Find(&senders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaign senders: %w", err)
	}
	return senders, nil
}

// eligibleLeads are the campaign's joined leads that are still
// contactable, in stable order.
func (cs *CampaignScheduler) eligibleLeads(campaignID uint) ([]models.Lead, error) {
	var leads []models.Lead
	err := cs.db.
		Joins("JOIN campaign_leads ON campaign_leads.lead_id = leads.id").
		Where("campaign_leads.campaign_id = ?", campaignID).
		Where("campaign_leads.deleted_at IS NULL").
		Where("leads.status NOT IN ?", []string{models.LeadStatusBounced, models.LeadStatusUnsubscribed}).
		Order("leads.id ASC").
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaign leads: %w", err)
	}
	return leads, nil
}

// RemainingLeads counts eligible leads that still have sequence steps
// ahead of them, regardless of follow-up delay. Zero means the campaign
// has nothing left to do.
func (cs *CampaignScheduler) RemainingLeads(campaign *models.Campaign) (int, error) {
	var steps []models.SequenceStep
	if err := cs.db.
		Where("campaign_id = ? AND is_active = ?", campaign.ID, true).
		Order("step_number ASC").
		Find(&steps).Error; err != nil {
		return 0, fmt.Errorf("failed to fetch sequence steps: %w", err)
	}
	if len(steps) == 0 {
		return 0, nil
	}

	leads, err := cs.eligibleLeads(campaign.ID)
	if err != nil {
		return 0, err
	}

	remaining := 0
	for i := range leads {
		switch leads[i].Status {
		case models.LeadStatusReplied, models.LeadStatusInterested, models.LeadStatusNotInterested:
			continue
		}

		var priorSends int64
		if err := cs.db.Model(&models.EmailLog{}).
			Where("campaign_id = ? AND lead_id = ? AND type = ? AND status <> ?",
				campaign.ID, leads[i].ID, models.EmailTypeCampaign, models.EmailStatusFailed).
			Count(&priorSends).Error; err != nil {
			return 0, fmt.Errorf("failed to count prior sends: %w", err)
		}
		if int(priorSends) < len(steps) {
			remaining++
		}
	}
	return remaining, nil
}

// nextStepForLead picks the step to send: the first active step the lead
// has not yet received, once the previous step's delay has elapsed. Sends
// already queued for the lead count as received so a pass never schedules
// the same step twice. Returns nil when the lead is not due.
func (cs *CampaignScheduler) nextStepForLead(campaignID uint, lead *models.Lead, steps []models.SequenceStep) (*models.SequenceStep, error) {
	var priorSends int64
	err := cs.db.Model(&models.EmailLog{}).
		Where("campaign_id = ? AND lead_id = ? AND type = ? AND status <> ?",
			campaignID, lead.ID, models.EmailTypeCampaign, models.EmailStatusFailed).
		Count(&priorSends).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count prior sends: %w", err)
	}

	if int(priorSends) >= len(steps) {
		return nil, nil
	}
	step := &steps[priorSends]

	if priorSends == 0 {
		return step, nil
	}

	// Follow-ups stop once the lead has responded one way or the other
	switch lead.Status {
	case models.LeadStatusReplied, models.LeadStatusInterested, models.LeadStatusNotInterested:
		return nil, nil
	}

	if lead.LastContactedAt == nil {
		return step, nil
	}
	due := lead.LastContactedAt.Add(time.Duration(step.DelayDays) * 24 * time.Hour)
	if time.Now().Before(due) {
		return nil, nil
	}
	return step, nil
}
