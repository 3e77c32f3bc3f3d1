// Package client implements the connecting side of a dStream connection.
//
// A Client dials the endpoint with any transport.ITransport, runs the protocol
// adapter on the connection and sends requests to the server. Since the protocol
// is symmetric, a client can also serve requests of the server by passing a
// protocol.RequestHandler to NewClient.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoint:   "localhost:8080",
//	  RetryCount: 3,
//	  Protocol:   common.DefaultProtocolConfig(),
//	  Transport:  common.DefaultTransportConfig(),
//	}
//
//	c, _ := client.NewClient(config, tcp.NewTCPClientTransport(config.Transport), serializer.NewJSONSerializer(), nil)
//	defer c.Close()
//
//	req := protocol.NewRequest("POST", "/upload")
//	req.SetBody("text/plain", []byte("hello"))
//	resp, _ := c.SendRequest(context.Background(), req)
//	defer resp.Close()
//
// Retries:
//
//	Requests that time out are retried up to RetryCount times with a new id,
//	but only if every stream source implements io.Seeker, so the sources can be
//	rewound. All other errors are returned immediately.
//
// Thread Safety:
//
//	A Client is safe for concurrent use, requests are multiplexed over the
//	single connection.
package client
