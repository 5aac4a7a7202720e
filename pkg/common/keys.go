package common

import "fmt"

var (
	// Synopsis store keys
	synopsisPrefix  string = "synopsis"
	synopsisRecord  string = "synopsis:record:%s"  // messageId
	synopsisCounter string = "synopsis:counter:%s" // ownerId
	synopsisIndex   string = "synopsis:index:%s"   // ownerId

	// Queue journal keys
	queuePrefix  string = "queue"
	queueItems   string = "queue:%s:items" // queueName
	queueCounter string = "queue:%s:stats" // queueName

	// Ingest keys
	ingestLock string = "ingest:lock:%s" // ownerId

	// Auth keys
	authMailboxToken string = "auth:mailbox:token:%s" // ownerId
)

var Keys = &redisKeys{}

type redisKeys struct{}

// Synopsis keys
func (rk *redisKeys) SynopsisPrefix() string {
	return synopsisPrefix
}

func (rk *redisKeys) SynopsisRecord(messageId string) string {
	return fmt.Sprintf(synopsisRecord, messageId)
}

func (rk *redisKeys) SynopsisCounter(ownerId string) string {
	return fmt.Sprintf(synopsisCounter, ownerId)
}

func (rk *redisKeys) SynopsisIndex(ownerId string) string {
	return fmt.Sprintf(synopsisIndex, ownerId)
}

// Queue keys
func (rk *redisKeys) QueuePrefix() string {
	return queuePrefix
}

func (rk *redisKeys) QueueItems(queueName string) string {
	return fmt.Sprintf(queueItems, queueName)
}

func (rk *redisKeys) QueueCounter(queueName string) string {
	return fmt.Sprintf(queueCounter, queueName)
}

// Ingest keys
func (rk *redisKeys) IngestLock(ownerId string) string {
	return fmt.Sprintf(ingestLock, ownerId)
}

// Auth keys
func (rk *redisKeys) AuthMailboxToken(ownerId string) string {
	return fmt.Sprintf(authMailboxToken, ownerId)
}
