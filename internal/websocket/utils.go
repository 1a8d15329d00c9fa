// internal/websocket/utils.go
package websocket

import "encoding/json"

// mapToStruct converts decoded message data into a typed request
func mapToStruct(data interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}

// DecodeData decodes a message payload for handlers outside this package.
func DecodeData(data interface{}, target interface{}) error {
	return mapToStruct(data, target)
}
