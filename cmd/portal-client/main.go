package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	portalAddr := flag.String("portal", "http://192.168.4.1:8080", "Config portal base URL")
	show := flag.Bool("show", false, "Print the portal fields and exit")
	server := flag.String("server", "", "InfluxDB host")
	port := flag.String("port", "", "InfluxDB port")
	database := flag.String("db", "", "InfluxDB database")
	deviceName := flag.String("name", "", "Device name")
	geohash := flag.String("geohash", "", "Location geohash")
	stime := flag.String("stime", "", "Sample time in seconds")
	stype := flag.String("stype", "", "Sensor type (0 auto, 1 Panasonic/Plantower, 2 Sensirion)")
	lat := flag.String("lat", "", "Latitude")
	lon := flag.String("lon", "", "Longitude")
	ssid := flag.String("ssid", "", "Wi-Fi network to join")
	password := flag.String("password", "", "Wi-Fi password")
	watch := flag.String("watch", "", "MQTT broker to watch for mirrored telemetry, e.g. tcp://localhost:1883")

	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	if *show {
		if err := showFields(client, *portalAddr); err != nil {
			log.Fatalf("failed to read portal: %v", err)
		}
		return
	}

	if *watch != "" {
		watchTelemetry(*watch)
		return
	}

	form := url.Values{}
	set := func(key, value string) {
		if value != "" {
			form.Set(key, value)
		}
	}
	set("server", *server)
	set("port", *port)
	set("influxdb", *database)
	set("devicename", *deviceName)
	set("geohash", *geohash)
	set("stime", *stime)
	set("stype", *stype)
	set("lat", *lat)
	set("lon", *lon)
	set("ssid", *ssid)
	set("password", *password)

	if len(form) == 0 {
		log.Fatal("nothing to submit, pass at least one field flag")
	}

	resp, err := client.PostForm(strings.TrimRight(*portalAddr, "/")+"/save", form)
	if err != nil {
		log.Fatalf("failed to submit config: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("portal rejected config: %s %s", resp.Status, strings.TrimSpace(string(body)))
	}
	log.Printf("submitted %d fields to %s", len(form), *portalAddr)
}

func showFields(client *http.Client, base string) error {
	resp, err := client.Get(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var listing struct {
		SSID   string `json:"ssid"`
		Fields []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}

	fmt.Printf("portal on %q\n", listing.SSID)
	for _, f := range listing.Fields {
		fmt.Printf("  %-12s %-18s %s\n", f.ID, f.Label, f.Value)
	}
	return nil
}

func watchTelemetry(broker string) {
	clientID := fmt.Sprintf("portal-client-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", broker, clientID)

	const topic = "canairio/+/telemetry"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		log.Printf("%s %s", msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		log.Fatalf("failed to subscribe to %s: %v", topic, token.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Print("received shutdown signal, disconnecting")
	client.Disconnect(250)
}
