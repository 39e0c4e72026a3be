package broker

import (
	"fmt"
	"strings"
)

// Shared pipeline queues
const (
	QueueCrawler = "crawler"
	QueueCleaner = "cleaner"
	QueueStorage = "storage"
	QueueIndexer = "indexer"
	QueueRefresh = "refresh"
)

const keyPrefix = "sitesearch"

// TaskQueueName returns the logical queue name for a crawl task's input
// frontier. Task queues get their own key shape (see PendingKey).
func TaskQueueName(taskID string) string {
	return "task:" + taskID
}

// IsTaskQueue reports whether a logical queue name is a per-task frontier
func IsTaskQueue(queue string) bool {
	return strings.HasPrefix(queue, "task:")
}

// PendingKey maps a logical queue to its pending FIFO list key. Task
// frontiers live at sitesearch:task:{id}:queue; shared stage queues at
// sitesearch:queue:{name}.
func PendingKey(queue string) string {
	if IsTaskQueue(queue) {
		return fmt.Sprintf("%s:%s:queue", keyPrefix, queue)
	}
	return fmt.Sprintf("%s:queue:%s", keyPrefix, queue)
}

// ProcessingKey maps a logical queue to its in-flight list key
func ProcessingKey(queue string) string {
	return fmt.Sprintf("%s:processing:%s", keyPrefix, queue)
}

// CompletedKey maps a logical queue to its completed list key
func CompletedKey(queue string) string {
	return fmt.Sprintf("%s:completed:%s", keyPrefix, queue)
}

// FailedKey maps a logical queue to its failed list key
func FailedKey(queue string) string {
	return fmt.Sprintf("%s:failed:%s", keyPrefix, queue)
}

// TimesKey maps a logical queue to its processing-time ring key
func TimesKey(queue string) string {
	return fmt.Sprintf("%s:processing_times:%s", keyPrefix, queue)
}

// ActivityKey maps a logical queue to its last-activity stamp key
func ActivityKey(queue string) string {
	return fmt.Sprintf("%s:last_activity:%s", keyPrefix, queue)
}

// CrawledSetKey is the dedup set shared by a task's crawler pool, keyed by
// the frontier's pending key so multiple tasks never collide
func CrawledSetKey(queue string) string {
	return "crawler:crawled_urls:" + PendingKey(queue)
}

// DocstoreKey is the per-site chunk document store hash
func DocstoreKey(siteID string) string {
	return fmt.Sprintf("%s:%s:docs", keyPrefix, siteID)
}

// QueueKeys lists every key belonging to a logical queue, for cleanup
func QueueKeys(queue string) []string {
	return []string{
		PendingKey(queue),
		ProcessingKey(queue),
		CompletedKey(queue),
		FailedKey(queue),
		TimesKey(queue),
		ActivityKey(queue),
	}
}
