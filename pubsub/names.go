package pubsub

import (
	"fmt"
	"strings"
)

// TopicName formats the project-scoped resource name of a topic.
func TopicName(projectID, topic string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topic)
}

// SubscriptionName formats the project-scoped resource name of a subscription.
func SubscriptionName(projectID, subscription string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscription)
}

// ShortName strips the projects/<p>/<kind>/ prefix from a resource name.
// Already-short names pass through unchanged.
func ShortName(resourceName string) string {
	if idx := strings.LastIndex(resourceName, "/"); idx >= 0 {
		return resourceName[idx+1:]
	}
	return resourceName
}
