package redis

const keyPrefix = "assessx:"

// ResultsQueueKey is the list submissions are pushed to in queue mode.
const ResultsQueueKey = keyPrefix + "results:queue"

func testKey(testCode string) string {
	return keyPrefix + "test:" + testCode
}

func sessionKey(testCode string) string {
	return keyPrefix + "session:" + testCode
}

// EventsChannel is the Pub/Sub channel mirroring a session's events.
func EventsChannel(testCode string) string {
	return sessionKey(testCode) + ":events"
}
