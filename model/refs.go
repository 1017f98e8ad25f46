// Package model defines the stored records of teams, customers, campaigns,
// users and their settings, with pure merge and projection helpers.
package model

import "github.com/jacentio/teamsync/store"

// Collection names.
const (
	TeamsCollection             = "teams"
	CustomersCollection         = "customers"
	CampaignsCollection         = "campaigns"
	UsersCollection             = "users"
	CustomersSettingsCollection = "customersSettings"
	CampaignsSettingsCollection = "campaignsSettings"
	CronJobsCollection          = "cronJobs"
	CronMirrorCollection        = "__cronCampaignsUpdate"
)

// cronJobGroup is the document under cronJobs that holds per-team refresh jobs.
const cronJobGroup = "campaignsUpdate"

// TeamRef returns teams/{teamID}.
func TeamRef(teamID string) store.DocRef {
	return store.Collection(TeamsCollection).Doc(teamID)
}

// CustomerRef returns the canonical customers/{customerID}.
func CustomerRef(customerID string) store.DocRef {
	return store.Collection(CustomersCollection).Doc(customerID)
}

// CampaignRef returns the canonical campaigns/{campaignID}.
func CampaignRef(campaignID string) store.DocRef {
	return store.Collection(CampaignsCollection).Doc(campaignID)
}

// CustomerSettingsRef returns teams/{teamID}/customersSettings/{customerID}.
func CustomerSettingsRef(teamID, customerID string) store.DocRef {
	return TeamRef(teamID).Collection(CustomersSettingsCollection).Doc(customerID)
}

// CampaignSettingsRef returns teams/{teamID}/campaignsSettings/{campaignID}.
func CampaignSettingsRef(teamID, campaignID string) store.DocRef {
	return TeamRef(teamID).Collection(CampaignsSettingsCollection).Doc(campaignID)
}

// UserRef returns users/{userID}.
func UserRef(userID string) store.DocRef {
	return store.Collection(UsersCollection).Doc(userID)
}

// UserCustomersRef returns the collection users/{userID}/customers.
func UserCustomersRef(userID string) store.CollectionRef {
	return UserRef(userID).Collection(CustomersCollection)
}

// UserCustomerRef returns users/{userID}/customers/{customerID}.
func UserCustomerRef(userID, customerID string) store.DocRef {
	return UserCustomersRef(userID).Doc(customerID)
}

// UserCampaignsRef returns the collection users/{userID}/customers/{customerID}/campaigns.
func UserCampaignsRef(userID, customerID string) store.CollectionRef {
	return UserCustomerRef(userID, customerID).Collection(CampaignsCollection)
}

// UserCampaignRef returns users/{userID}/customers/{customerID}/campaigns/{campaignID}.
func UserCampaignRef(userID, customerID, campaignID string) store.DocRef {
	return UserCampaignsRef(userID, customerID).Doc(campaignID)
}

// CronJobRef returns cronJobs/campaignsUpdate/teams/{teamID}.
func CronJobRef(teamID string) store.DocRef {
	return store.Collection(CronJobsCollection).Doc(cronJobGroup).Collection(TeamsCollection).Doc(teamID)
}

// CronMirrorRef returns __cronCampaignsUpdate/{teamID}.
func CronMirrorRef(teamID string) store.DocRef {
	return store.Collection(CronMirrorCollection).Doc(teamID)
}
