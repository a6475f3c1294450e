// Package host runs an offline cache agent inside an HTTP server.
//
// Host implements agent.Runtime. It delivers the install and activate
// events from Start, routes incoming HTTP requests through the agent's
// fetch handler once clients have been claimed, and forwards everything
// else to the upstream origin through a network Fetcher.
//
//	h, _ := host.New("https://portfolio.example.com/")
//	a, _ := agent.New(agent.DefaultConfig("https://portfolio.example.com/"), storage, h.Network())
//	a.Register(h)
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	go http.ListenAndServe(":9090", host.AdminMux(host.NewHealth(a, storage), obs))
//	http.ListenAndServe(":8080", h)
//
// AdminMux serves the health probes and, with a prometheus observer, the
// metrics scrape endpoint.
package host
