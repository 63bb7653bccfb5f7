package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/model"
)

type Producer struct {
	client *redis.Client
	cfg    *config.Config
	now    func() time.Time
}

func NewProducer(redisClient *RedisClient, cfg *config.Config) *Producer {
	return &Producer{
		client: redisClient.Client(),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (p *Producer) EnqueueProcessJob(ctx context.Context, job model.ProcessJob) error {
	return p.push(ctx, p.cfg.Redis.ProcessQueue, job)
}

func (p *Producer) EnqueueImportJob(ctx context.Context, job model.ImportJob) error {
	return p.push(ctx, p.cfg.Redis.ImportQueue, job)
}

// Trigger enqueues a process job for one course and submitter. It lets the
// grade editor and the sweeper hand work to the sync workers.
func (p *Producer) Trigger(ctx context.Context, courseID, submitterID int64) error {
	_, err := p.TriggerJob(ctx, courseID, submitterID)
	return err
}

// TriggerJob is Trigger returning the job that was queued.
func (p *Producer) TriggerJob(ctx context.Context, courseID, submitterID int64) (model.ProcessJob, error) {
	job := model.ProcessJob{
		JobID:       uuid.NewString(),
		CourseID:    courseID,
		SubmitterID: submitterID,
		EnqueuedAt:  p.now().UTC(),
	}
	return job, p.EnqueueProcessJob(ctx, job)
}

func (p *Producer) push(ctx context.Context, queueName string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return p.client.LPush(ctx, queueName, data).Err()
}
