package orders

import "strconv"

const TopicOrderLifecycle = "orders.lifecycle"

// Partition key = product_id, so every stock change of one product keeps its order.
func PartitionKey(productID int64) string { return strconv.FormatInt(productID, 10) }
