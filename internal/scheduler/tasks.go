package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskPushVerification = "quotes.push.verify"

type PushVerificationPayload struct {
	QuoteID  string `json:"quoteId"`
	BrokerID string `json:"brokerId"`
}

func NewPushVerificationTask(payload PushVerificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPushVerification, data), nil
}

func ParsePushVerificationPayload(task *asynq.Task) (PushVerificationPayload, error) {
	var payload PushVerificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PushVerificationPayload{}, err
	}
	return payload, nil
}
