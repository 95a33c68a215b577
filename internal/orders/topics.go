package orders

const (
	TopicOrderStatusChanged  = "order.status.changed"
	TopicOrderStatusCommands = "order.status.commands"
)

// Partition key = order token, so every event of one order keeps its order.
func PartitionKey(orderToken string) []byte {
	return []byte(orderToken)
}
