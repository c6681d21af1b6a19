// Package mqtt provides broker connectivity for the DMX bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS acknowledgment and a bounded wait
//   - Tracked subscriptions that survive reconnects
//   - A Last Will on the bridge health topic for crash detection
//
// # Security Considerations
//
//   - TLS 1.2+ is used when cfg.Broker.TLS is set
//   - Credentials come from config or GRAYLOGIC_MQTT_USERNAME/PASSWORD
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:   mqtt.Topics{}.BridgeHealth("dmx"),
//	    Payload: lwt,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommand("dmx", "#"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
