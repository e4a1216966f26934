package mapper

import "listings_sync/models"

var Property = newMapper(models.EntityProperty,
	[]string{
		"ListingKey", "ListingId", "OriginatingSystemName", "ModificationTimestamp",
		"StandardStatus", "MlsStatus", "ContractStatus", "TransactionType",
		"ListingContractDate", "CloseDate", "ExpirationDate", "TerminatedDate",
		"SuspendedDate", "UnavailableDate", "PriceChangeTimestamp",
		"BackOnMarketEntryTimestamp", "OriginalEntryTimestamp",
		"TerminatedEntryTimestamp", "SuspendedEntryTimestamp", "PhotosChangeTimestamp",
		"UnparsedAddress", "StreetNumber", "StreetName", "StreetSuffix", "StreetDirSuffix",
		"UnitNumber", "City", "CityRegion", "CountyOrParish", "StateOrProvince",
		"PostalCode", "Country", "PropertyType", "PropertySubType", "ArchitecturalStyle",
		"LivingAreaRange", "ApproximateAge", "Basement", "HeatType", "Cooling",
		"ParkingFeatures", "ListOfficeName", "ListAgentFullName", "VirtualTourURLUnbranded",
		"InternetEntireListingDisplayYN", "WaterfrontYN", "PoolFeatures", "ExteriorFeatures",
		"InteriorFeatures",
	},
	[]string{
		"ListPrice", "OriginalListPrice", "PreviousListPrice", "ClosePrice",
		"Latitude", "Longitude", "BedroomsTotal", "BedroomsAboveGrade", "BedroomsBelowGrade",
		"BathroomsTotalInteger", "KitchensTotal", "LivingArea", "LotSizeArea", "LotWidth",
		"LotDepth", "YearBuilt", "TaxAnnualAmount", "TaxYear", "AssociationFee",
		"ParkingTotal", "GarageParkingSpaces", "DaysOnMarket", "StoriesTotal",
	},
	[]string{"PublicRemarks", "PublicRemarksExtras"},
)

var Media = newMapper(models.EntityMedia,
	[]string{
		"MediaKey", "ResourceRecordKey", "ResourceName", "MediaURL", "MediaType",
		"MediaCategory", "MediaStatus", "PreferredPhotoYN", "ImageSizeDescription",
		"ModificationTimestamp", "MediaModificationTimestamp",
	},
	[]string{"Order", "ImageWidth", "ImageHeight"},
	[]string{"ShortDescription", "LongDescription"},
)

var Rooms = newMapper(models.EntityRooms,
	[]string{
		"RoomKey", "ListingKey", "RoomType", "RoomLevel", "RoomDimensions",
		"RoomLengthWidthUnits", "RoomFeatures", "RoomFeature1", "RoomFeature2",
		"RoomFeature3", "ModificationTimestamp",
	},
	[]string{"RoomLength", "RoomWidth", "RoomArea", "Order"},
	[]string{"RoomDescription"},
)

var OpenHouse = newMapper(models.EntityOpenHouse,
	[]string{
		"OpenHouseKey", "ListingKey", "OpenHouseId", "OpenHouseDate", "OpenHouseStartTime",
		"OpenHouseEndTime", "OpenHouseType", "OpenHouseStatus", "OpenHouseURL",
		"ModificationTimestamp",
	},
	nil,
	[]string{"OpenHouseRemarks"},
)
