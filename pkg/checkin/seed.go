package checkin

import "time"

// DemoSeed is the data the dev server starts with when no seed file is given.
//
//	QR-ALICE-0001  active, club-1 subscription
//	QR-BOB-0002    active, club-2 subscription (not valid for club-1 events)
//	QR-CAROL-0003  deactivated code
//	QR-DAVE-0004   active code, lapsed subscription
func DemoSeed() Seed {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	eventAt := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	return Seed{
		Clubs: []Club{{ID: "club-1", Name: "Riverside Runners"}, {ID: "club-2", Name: "Chess Circle"}},
		Events: []Event{
			{ID: "evt-1", ClubID: "club-1", Name: "Evening run", StartsAt: eventAt, EndsAt: eventAt.Add(2 * time.Hour)},
			{ID: "evt-2", ClubID: "club-2", Name: "Blitz night", StartsAt: eventAt, EndsAt: eventAt.Add(3 * time.Hour)},
		},
		Subscriptions: []Subscription{
			{ID: "sub-alice", UserID: "user-alice", ClubID: "club-1", Active: true, ActiveFrom: start, ActiveUntil: end},
			{ID: "sub-bob", UserID: "user-bob", ClubID: "club-2", Active: true, ActiveFrom: start, ActiveUntil: end},
			{ID: "sub-carol", UserID: "user-carol", ClubID: "club-1", Active: true, ActiveFrom: start, ActiveUntil: end},
			{ID: "sub-dave", UserID: "user-dave", ClubID: "club-1", Active: true, ActiveFrom: start, ActiveUntil: start.AddDate(0, 3, 0)},
		},
		QRCodes: []QRCode{
			{ID: "qr-1", Code: "QR-ALICE-0001", SubscriptionID: "sub-alice", Active: true},
			{ID: "qr-2", Code: "QR-BOB-0002", SubscriptionID: "sub-bob", Active: true},
			{ID: "qr-3", Code: "QR-CAROL-0003", SubscriptionID: "sub-carol", Active: false},
			{ID: "qr-4", Code: "QR-DAVE-0004", SubscriptionID: "sub-dave", Active: true},
		},
		Users: []User{{ID: "user-staff", Email: "staff@example.com", Password: "staffpass"}},
	}
}
